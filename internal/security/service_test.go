package security

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mangadox/mangadox/internal/counter"
	"github.com/mangadox/mangadox/internal/model"
	"github.com/mangadox/mangadox/internal/session"
	"github.com/mangadox/mangadox/internal/store"
)

type captureSink struct {
	mu     sync.Mutex
	events []model.SecurityEvent
}

func (c *captureSink) Record(ev model.SecurityEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureSink) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.EventType
	}
	return out
}

func (c *captureSink) last(t *testing.T) model.SecurityEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		t.Fatal("no events recorded")
	}
	return c.events[len(c.events)-1]
}

type testEnv struct {
	svc  *Service
	st   *store.Store
	sess *session.Manager
	sink *captureSink
	now  time.Time
}

func (e *testEnv) advance(d time.Duration) { e.now = e.now.Add(d) }

// testPolicy raises the login rate limit so lockout scenarios can run many
// attempts from one client; the rate-limit tests dial it back down.
func testPolicy() Policy {
	p := DefaultPolicy()
	p.LoginLimit = 100
	return p
}

func newTestEnv(t *testing.T, policy Policy) *testEnv {
	t.Helper()

	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	env := &testEnv{
		st:   st,
		sess: session.NewManager(st, time.Hour),
		sink: &captureSink{},
		now:  time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
	}

	limiter := NewLimiter(counter.NewMemory(), discardLogger())
	env.svc = NewService(st, env.sess, limiter, env.sink, policy, discardLogger())
	env.svc.now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) createUser(t *testing.T, username, email, password string) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := e.st.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

func (e *testEnv) login(t *testing.T, username, password string) *LoginResult {
	t.Helper()
	res, err := e.svc.AttemptLogin(context.Background(), LoginRequest{
		Username: username,
		Password: password,
		ClientID: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("AttemptLogin: %v", err)
	}
	return res
}

const testPassword = "CorrectHorse!9Battery"

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t, testPolicy())
	user := env.createUser(t, "reader1", "reader1@example.com", testPassword)

	res := env.login(t, "reader1", testPassword)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome: got %s, want success (%s)", res.Outcome, res.Reason)
	}
	if res.UserID != user.ID {
		t.Errorf("UserID: got %d, want %d", res.UserID, user.ID)
	}
	if res.SessionToken == "" {
		t.Error("expected a session token")
	}

	sess, err := env.sess.Resolve(context.Background(), res.SessionToken)
	if err != nil {
		t.Fatalf("Resolve issued token: %v", err)
	}
	if sess.UserID != user.ID {
		t.Errorf("session bound to %d, want %d", sess.UserID, user.ID)
	}

	if ev := env.sink.last(t); ev.EventType != model.EventLoginSuccess {
		t.Errorf("event: got %q, want %q", ev.EventType, model.EventLoginSuccess)
	}

	got, _ := env.st.GetUser(context.Background(), user.ID)
	if got.LastLogin == nil {
		t.Error("last_login not stamped")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t, testPolicy())
	user := env.createUser(t, "reader1", "reader1@example.com", testPassword)

	res := env.login(t, "reader1", "Wrong!Password9x")
	if res.Outcome != OutcomeInvalidCredentials {
		t.Fatalf("outcome: got %s, want invalid credentials", res.Outcome)
	}
	if res.Reason != MsgInvalidCredentials {
		t.Errorf("reason: got %q, want the generic message", res.Reason)
	}
	if res.Locked {
		t.Error("single failure must not report locked")
	}

	got, _ := env.st.GetUser(context.Background(), user.ID)
	if got.FailedLoginAttempts != 1 {
		t.Errorf("counter: got %d, want 1", got.FailedLoginAttempts)
	}
}

func TestLoginUnknownUsername(t *testing.T) {
	env := newTestEnv(t, testPolicy())

	res := env.login(t, "nobody", testPassword)
	if res.Outcome != OutcomeInvalidCredentials {
		t.Fatalf("outcome: got %s, want invalid credentials", res.Outcome)
	}
	// Same generic message as a wrong password; the response must not
	// disclose whether the account exists.
	if res.Reason != MsgInvalidCredentials {
		t.Errorf("reason: got %q, want the generic message", res.Reason)
	}
}

func TestLoginMissingFields(t *testing.T) {
	env := newTestEnv(t, testPolicy())

	res := env.login(t, "", "")
	if res.Outcome != OutcomeValidationFailed {
		t.Errorf("outcome: got %s, want validation failed", res.Outcome)
	}

	res = env.login(t, "not a valid name!", testPassword)
	if res.Outcome != OutcomeValidationFailed {
		t.Errorf("bad format outcome: got %s, want validation failed", res.Outcome)
	}
	if res.Reason != MsgInvalidFormat {
		t.Errorf("bad format reason: got %q, want generic", res.Reason)
	}
}

func TestLoginSuccessResetsCounter(t *testing.T) {
	env := newTestEnv(t, testPolicy())
	user := env.createUser(t, "reader1", "reader1@example.com", testPassword)

	for i := 0; i < 4; i++ {
		env.login(t, "reader1", "Wrong!Password9x")
	}
	got, _ := env.st.GetUser(context.Background(), user.ID)
	if got.FailedLoginAttempts != 4 {
		t.Fatalf("counter: got %d, want 4", got.FailedLoginAttempts)
	}
	if got.IsLocked {
		t.Fatal("locked below threshold")
	}

	res := env.login(t, "reader1", testPassword)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome: got %s, want success", res.Outcome)
	}

	got, _ = env.st.GetUser(context.Background(), user.ID)
	if got.FailedLoginAttempts != 0 {
		t.Errorf("counter after success: got %d, want 0", got.FailedLoginAttempts)
	}
}

func TestLoginLocksAtThreshold(t *testing.T) {
	env := newTestEnv(t, testPolicy())
	user := env.createUser(t, "reader1", "reader1@example.com", testPassword)

	for i := 0; i < 4; i++ {
		env.login(t, "reader1", "Wrong!Password9x")
	}

	// The fifth failure locks, but the response still reads as bad
	// credentials; only the Locked hint changes.
	res := env.login(t, "reader1", "Wrong!Password9x")
	if res.Outcome != OutcomeInvalidCredentials {
		t.Errorf("fifth failure outcome: got %s, want invalid credentials", res.Outcome)
	}
	if !res.Locked {
		t.Error("fifth failure: expected Locked hint")
	}
	if ev := env.sink.last(t); ev.EventType != model.EventAccountLocked {
		t.Errorf("event: got %q, want %q", ev.EventType, model.EventAccountLocked)
	}

	got, _ := env.st.GetUser(context.Background(), user.ID)
	if !got.IsLocked {
		t.Fatal("account not locked after 5 failures")
	}
	if got.LockedUntil == nil {
		t.Fatal("locked_until not set")
	}
	want := env.now.Add(15 * time.Minute)
	if diff := got.LockedUntil.Sub(want); diff < -time.Second || diff > time.Second {
		t.Errorf("locked_until: got %v, want about %v", got.LockedUntil, want)
	}
}

func TestLockedAccountRejectsCorrectPassword(t *testing.T) {
	env := newTestEnv(t, testPolicy())
	user := env.createUser(t, "reader1", "reader1@example.com", testPassword)

	for i := 0; i < 5; i++ {
		env.login(t, "reader1", "Wrong!Password9x")
	}

	res := env.login(t, "reader1", testPassword)
	if res.Outcome != OutcomeAccountLocked {
		t.Fatalf("outcome: got %s, want account locked", res.Outcome)
	}
	if !res.Locked {
		t.Error("expected Locked hint")
	}
	if res.Reason != MsgAccountLocked {
		t.Errorf("reason: got %q", res.Reason)
	}

	// The lockout check short-circuits before the password compare, so the
	// counter stays where it was.
	got, _ := env.st.GetUser(context.Background(), user.ID)
	if got.FailedLoginAttempts != 5 {
		t.Errorf("counter: got %d, want 5", got.FailedLoginAttempts)
	}
}

func TestLazyUnlockAfterExpiry(t *testing.T) {
	env := newTestEnv(t, testPolicy())
	user := env.createUser(t, "reader1", "reader1@example.com", testPassword)

	for i := 0; i < 5; i++ {
		env.login(t, "reader1", "Wrong!Password9x")
	}

	env.advance(16 * time.Minute)

	res := env.login(t, "reader1", testPassword)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome after lock expiry: got %s, want success (%s)", res.Outcome, res.Reason)
	}

	got, _ := env.st.GetUser(context.Background(), user.ID)
	if got.IsLocked || got.LockedUntil != nil || got.FailedLoginAttempts != 0 {
		t.Error("lockout state not reset after successful login")
	}
}

func TestLazyUnlockKeepsCounterOnFailure(t *testing.T) {
	env := newTestEnv(t, testPolicy())
	user := env.createUser(t, "reader1", "reader1@example.com", testPassword)

	for i := 0; i < 5; i++ {
		env.login(t, "reader1", "Wrong!Password9x")
	}
	env.advance(16 * time.Minute)

	// The expiry cleared the lock but not the counter, so the very next
	// failure crosses the threshold again.
	res := env.login(t, "reader1", "Wrong!Password9x")
	if res.Outcome != OutcomeInvalidCredentials {
		t.Fatalf("outcome: got %s, want invalid credentials", res.Outcome)
	}
	if !res.Locked {
		t.Error("expected an immediate re-lock")
	}

	got, _ := env.st.GetUser(context.Background(), user.ID)
	if got.FailedLoginAttempts != 6 {
		t.Errorf("counter: got %d, want 6", got.FailedLoginAttempts)
	}
	if !got.IsLocked {
		t.Error("expected locked again")
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	env := newTestEnv(t, testPolicy())
	user := env.createUser(t, "reader1", "reader1@example.com", testPassword)
	if err := env.st.SetUserActive(context.Background(), user.ID, false); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}

	res := env.login(t, "reader1", testPassword)
	if res.Outcome != OutcomeInvalidCredentials {
		t.Fatalf("outcome: got %s, want invalid credentials", res.Outcome)
	}

	// Inactive accounts do not accrue failed attempts.
	got, _ := env.st.GetUser(context.Background(), user.ID)
	if got.FailedLoginAttempts != 0 {
		t.Errorf("counter: got %d, want 0", got.FailedLoginAttempts)
	}
}

func TestLoginRateLimited(t *testing.T) {
	policy := testPolicy()
	policy.LoginLimit = 3
	env := newTestEnv(t, policy)
	user := env.createUser(t, "reader1", "reader1@example.com", testPassword)

	for i := 0; i < 3; i++ {
		env.login(t, "reader1", "Wrong!Password9x")
	}

	res := env.login(t, "reader1", testPassword)
	if res.Outcome != OutcomeRateLimited {
		t.Fatalf("outcome: got %s, want rate limited", res.Outcome)
	}
	if ev := env.sink.last(t); ev.EventType != model.EventLoginRateLimited {
		t.Errorf("event: got %q, want %q", ev.EventType, model.EventLoginRateLimited)
	}

	// A throttled attempt never reaches the account, so the failed-attempt
	// counter is untouched.
	got, _ := env.st.GetUser(context.Background(), user.ID)
	if got.FailedLoginAttempts != 3 {
		t.Errorf("counter: got %d, want 3", got.FailedLoginAttempts)
	}

	// A different client still gets through.
	other, err := env.svc.AttemptLogin(context.Background(), LoginRequest{
		Username: "reader1", Password: testPassword, ClientID: "10.0.0.2",
	})
	if err != nil {
		t.Fatalf("AttemptLogin: %v", err)
	}
	if other.Outcome != OutcomeSuccess {
		t.Errorf("other client outcome: got %s, want success", other.Outcome)
	}
}

func TestLoginFlushesPriorSession(t *testing.T) {
	env := newTestEnv(t, testPolicy())
	user := env.createUser(t, "reader1", "reader1@example.com", testPassword)
	ctx := context.Background()

	prior, err := env.sess.Issue(ctx, user.ID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	res, err := env.svc.AttemptLogin(ctx, LoginRequest{
		Username: "reader1", Password: testPassword,
		ClientID: "10.0.0.1", PriorToken: prior,
	})
	if err != nil {
		t.Fatalf("AttemptLogin: %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome: got %s, want success", res.Outcome)
	}
	if res.SessionToken == prior {
		t.Error("prior token reused as the new session")
	}
	if _, err := env.sess.Resolve(ctx, prior); err == nil {
		t.Error("prior session survived login")
	}
	if _, err := env.sess.Resolve(ctx, res.SessionToken); err != nil {
		t.Errorf("fresh session not resolvable: %v", err)
	}
}

func TestRegistrationSuccess(t *testing.T) {
	env := newTestEnv(t, testPolicy())

	res, err := env.svc.AttemptRegistration(context.Background(), RegistrationRequest{
		Username:        "reader1",
		Email:           "  Reader1@Example.COM  ",
		Password:        testPassword,
		ConfirmPassword: testPassword,
		ClientID:        "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("AttemptRegistration: %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome: got %s, want success (%s)", res.Outcome, res.Reason)
	}

	// Email stored trimmed and lowercased.
	user, err := env.st.GetUser(context.Background(), res.UserID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.Email != "reader1@example.com" {
		t.Errorf("email: got %q, want normalized", user.Email)
	}
	if !user.IsActive {
		t.Error("new account must be active")
	}
	if user.IsAdmin {
		t.Error("registration must never create admins")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(testPassword)); err != nil {
		t.Error("stored hash does not verify against the password")
	}
}

func TestRegistrationValidationOrder(t *testing.T) {
	env := newTestEnv(t, testPolicy())
	ctx := context.Background()

	cases := []struct {
		name    string
		req     RegistrationRequest
		outcome Outcome
	}{
		{
			"short username",
			RegistrationRequest{Username: "ab", Email: "a@b.co", Password: testPassword, ConfirmPassword: testPassword},
			OutcomeValidationFailed,
		},
		{
			"bad email",
			RegistrationRequest{Username: "reader1", Email: "nope", Password: testPassword, ConfirmPassword: testPassword},
			OutcomeValidationFailed,
		},
		{
			"weak password",
			RegistrationRequest{Username: "reader1", Email: "a@b.co", Password: "weak", ConfirmPassword: "weak"},
			OutcomeValidationFailed,
		},
		{
			"mismatched confirmation",
			RegistrationRequest{Username: "reader1", Email: "a@b.co", Password: testPassword, ConfirmPassword: testPassword + "x"},
			OutcomeMismatch,
		},
	}
	for _, tc := range cases {
		tc.req.ClientID = "10.0.0.1"
		res, err := env.svc.AttemptRegistration(ctx, tc.req)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if res.Outcome != tc.outcome {
			t.Errorf("%s: got %s, want %s", tc.name, res.Outcome, tc.outcome)
		}
		if res.Reason == "" {
			t.Errorf("%s: registration failures must carry a specific reason", tc.name)
		}
	}

	if n, _ := env.st.CountUsers(ctx); n != 0 {
		t.Errorf("rejected registrations created %d accounts", n)
	}
}

func TestRegistrationDuplicates(t *testing.T) {
	env := newTestEnv(t, testPolicy())
	env.createUser(t, "reader1", "reader1@example.com", testPassword)
	ctx := context.Background()

	res, err := env.svc.AttemptRegistration(ctx, RegistrationRequest{
		Username: "reader1", Email: "fresh@example.com",
		Password: testPassword, ConfirmPassword: testPassword, ClientID: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("AttemptRegistration: %v", err)
	}
	if res.Outcome != OutcomeDuplicateUsername {
		t.Errorf("duplicate username: got %s", res.Outcome)
	}

	// Email uniqueness is case-insensitive.
	res, err = env.svc.AttemptRegistration(ctx, RegistrationRequest{
		Username: "reader2", Email: "READER1@example.com",
		Password: testPassword, ConfirmPassword: testPassword, ClientID: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("AttemptRegistration: %v", err)
	}
	if res.Outcome != OutcomeDuplicateEmail {
		t.Errorf("duplicate email: got %s", res.Outcome)
	}

	if n, _ := env.st.CountUsers(ctx); n != 1 {
		t.Errorf("duplicates created accounts: count %d", n)
	}
}

func TestRegistrationRateLimited(t *testing.T) {
	env := newTestEnv(t, testPolicy())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.svc.AttemptRegistration(ctx, RegistrationRequest{
			Username: "bad", Email: "nope", Password: "x", ConfirmPassword: "x", ClientID: "10.0.0.1",
		})
	}

	res, err := env.svc.AttemptRegistration(ctx, RegistrationRequest{
		Username: "reader1", Email: "reader1@example.com",
		Password: testPassword, ConfirmPassword: testPassword, ClientID: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("AttemptRegistration: %v", err)
	}
	if res.Outcome != OutcomeRateLimited {
		t.Errorf("outcome: got %s, want rate limited", res.Outcome)
	}
}

func TestLogoutFlushesSession(t *testing.T) {
	env := newTestEnv(t, testPolicy())
	env.createUser(t, "reader1", "reader1@example.com", testPassword)
	ctx := context.Background()

	res := env.login(t, "reader1", testPassword)

	if err := env.svc.Logout(ctx, res.SessionToken, "10.0.0.1", &res.UserID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := env.sess.Resolve(ctx, res.SessionToken); err == nil {
		t.Error("session survived logout")
	}
	if ev := env.sink.last(t); ev.EventType != model.EventLogout {
		t.Errorf("event: got %q, want %q", ev.EventType, model.EventLogout)
	}

	// Logging out twice is harmless.
	if err := env.svc.Logout(ctx, res.SessionToken, "10.0.0.1", &res.UserID); err != nil {
		t.Errorf("second logout: %v", err)
	}
}

func TestAdminUnlock(t *testing.T) {
	env := newTestEnv(t, testPolicy())
	user := env.createUser(t, "reader1", "reader1@example.com", testPassword)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		env.login(t, "reader1", "Wrong!Password9x")
	}

	if err := env.svc.Unlock(ctx, user.ID, "10.9.9.9"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	// No waiting for expiry: the account is immediately usable.
	res := env.login(t, "reader1", testPassword)
	if res.Outcome != OutcomeSuccess {
		t.Errorf("outcome after unlock: got %s, want success", res.Outcome)
	}
}

func TestAdminSetActiveFlushesSessions(t *testing.T) {
	env := newTestEnv(t, testPolicy())
	env.createUser(t, "reader1", "reader1@example.com", testPassword)
	ctx := context.Background()

	res := env.login(t, "reader1", testPassword)

	if err := env.svc.SetActive(ctx, res.UserID, false, "10.9.9.9"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, err := env.sess.Resolve(ctx, res.SessionToken); err == nil {
		t.Error("session survived deactivation")
	}

	login := env.login(t, "reader1", testPassword)
	if login.Outcome != OutcomeInvalidCredentials {
		t.Errorf("deactivated login: got %s, want invalid credentials", login.Outcome)
	}
}

func TestEveryOutcomeEmitsOneEvent(t *testing.T) {
	env := newTestEnv(t, testPolicy())
	env.createUser(t, "reader1", "reader1@example.com", testPassword)

	env.login(t, "reader1", "Wrong!Password9x")
	env.login(t, "reader1", testPassword)
	env.login(t, "ghost", testPassword)

	want := []string{model.EventLoginFailed, model.EventLoginSuccess, model.EventLoginFailed}
	got := env.sink.types()
	if len(got) != len(want) {
		t.Fatalf("got %d events %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
