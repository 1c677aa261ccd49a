package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/mangadox/mangadox/internal/model"
	"github.com/mangadox/mangadox/internal/security"
	"github.com/mangadox/mangadox/internal/store"
)

// seedFile is the on-disk fixture format for the seed command.
type seedFile struct {
	Accounts []seedAccount `yaml:"accounts"`
}

type seedAccount struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Admin    bool   `yaml:"admin"`
}

func newSeedCmd() *cobra.Command {
	var skipExisting bool

	cmd := &cobra.Command{
		Use:   "seed <fixtures.yaml>",
		Short: "Create accounts from a YAML fixture file",
		Long: `Load account fixtures from a YAML file and create them with hashed
passwords. Each account is validated against the same username, email,
and password policy as interactive registration.

Fixture format:

  accounts:
    - username: reader1
      email: reader1@example.com
      password: "CorrectHorse!9Battery"
    - username: admin
      email: admin@example.com
      password: "AnotherLong!Secret4"
      admin: true`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(args[0], skipExisting)
		},
	}

	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "Skip accounts whose username or email already exists")

	return cmd
}

func runSeed(path string, skipExisting bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixtures: %w", err)
	}

	var fixtures seedFile
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("parse fixtures: %w", err)
	}
	if len(fixtures.Accounts) == 0 {
		return errors.New("fixture file contains no accounts")
	}

	// Validate everything before touching the database so a bad entry
	// halfway through the file does not leave a partial seed.
	for i, acct := range fixtures.Accounts {
		email := strings.ToLower(strings.TrimSpace(acct.Email))
		if err := security.ValidateUsername(acct.Username); err != nil {
			return fmt.Errorf("account %d (%q): %w", i+1, acct.Username, err)
		}
		if err := security.ValidateEmail(email); err != nil {
			return fmt.Errorf("account %d (%q): %w", i+1, acct.Username, err)
		}
		if err := security.ValidatePassword(acct.Password, acct.Username, email); err != nil {
			return fmt.Errorf("account %d (%q): %w", i+1, acct.Username, err)
		}
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	created, skipped := 0, 0
	for _, acct := range fixtures.Accounts {
		hash, err := bcrypt.GenerateFromPassword([]byte(acct.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password for %q: %w", acct.Username, err)
		}

		user := &model.User{
			Username:     acct.Username,
			Email:        strings.ToLower(strings.TrimSpace(acct.Email)),
			PasswordHash: string(hash),
			IsActive:     true,
			IsAdmin:      acct.Admin,
		}
		err = st.CreateUser(ctx, user)
		switch {
		case err == nil:
			created++
			fmt.Printf("Created %q\n", acct.Username)
		case skipExisting && (errors.Is(err, store.ErrDuplicateUsername) || errors.Is(err, store.ErrDuplicateEmail)):
			skipped++
			fmt.Printf("Skipped %q (already exists)\n", acct.Username)
		default:
			return fmt.Errorf("create %q: %w", acct.Username, err)
		}
	}

	fmt.Printf("Seeded %d account(s), skipped %d\n", created, skipped)
	return nil
}
