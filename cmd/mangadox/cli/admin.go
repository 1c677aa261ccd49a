package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/mangadox/mangadox/internal/model"
	"github.com/mangadox/mangadox/internal/security"
	"github.com/mangadox/mangadox/internal/store"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage accounts from the command line",
		Long:  "Create administrators and unlock, reset, or deactivate accounts without going through the HTTP API.",
	}

	cmd.AddCommand(newAdminCreateCmd())
	cmd.AddCommand(newAdminListCmd())
	cmd.AddCommand(newAdminUnlockCmd())
	cmd.AddCommand(newAdminDeactivateCmd())

	return cmd
}

// ---------- admin create ----------

func newAdminCreateCmd() *cobra.Command {
	var (
		username string
		email    string
		password string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new administrator account",
		Example: `  mangadox admin create --username admin --email admin@example.com
  mangadox admin create --username admin --email admin@example.com --password '...'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminCreate(username, email, password)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Admin username (required)")
	cmd.Flags().StringVar(&email, "email", "", "Admin email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Admin password (prompted if omitted)")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runAdminCreate(username, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	if err := security.ValidateUsername(username); err != nil {
		return err
	}
	if err := security.ValidateEmail(email); err != nil {
		return err
	}

	if password == "" {
		var err error
		password, err = promptPassword()
		if err != nil {
			return err
		}
	}

	// Administrators follow the same password policy as everyone else.
	if err := security.ValidatePassword(password, username, email); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     true,
		IsAdmin:      true,
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		return err
	}

	fmt.Printf("Created administrator %q (id %d)\n", username, user.ID)
	return nil
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Println()

	if string(pwBytes) != string(confirmBytes) {
		return "", errors.New("passwords do not match")
	}
	return string(pwBytes), nil
}

// ---------- admin list ----------

func newAdminListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAdminList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	users, err := st.ListUsers(context.Background(), 1000, 0)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tEMAIL\tACTIVE\tADMIN\tLOCKED\tFAILED")
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%t\t%t\t%d\n",
			u.ID, u.Username, u.Email, u.IsActive, u.IsAdmin, u.IsLocked, u.FailedLoginAttempts)
	}
	return tw.Flush()
}

// ---------- admin unlock ----------

func newAdminUnlockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock <username>",
		Short: "Unlock an account and reset its failed-attempt counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminLockoutReset(args[0])
		},
	}
	return cmd
}

func runAdminLockoutReset(username string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	user, err := st.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no such user: %q", username)
		}
		return err
	}

	if err := st.ResetLockout(ctx, user.ID); err != nil {
		return err
	}
	_ = st.AppendEvent(ctx, &model.SecurityEvent{
		EventType: model.EventAdminUnlock,
		UserID:    &user.ID,
		ClientID:  "cli",
	})

	fmt.Printf("Unlocked %q\n", username)
	return nil
}

// ---------- admin deactivate ----------

func newAdminDeactivateCmd() *cobra.Command {
	var activate bool

	cmd := &cobra.Command{
		Use:   "deactivate <username>",
		Short: "Deactivate an account (or reactivate with --undo)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminSetActive(args[0], activate)
		},
	}

	cmd.Flags().BoolVar(&activate, "undo", false, "Reactivate instead of deactivating")

	return cmd
}

func runAdminSetActive(username string, active bool) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	user, err := st.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no such user: %q", username)
		}
		return err
	}

	if err := st.SetUserActive(ctx, user.ID, active); err != nil {
		return err
	}
	if !active {
		if err := st.DeleteSessionsByUser(ctx, user.ID); err != nil {
			return err
		}
	}
	_ = st.AppendEvent(ctx, &model.SecurityEvent{
		EventType: model.EventAdminSetActive,
		UserID:    &user.ID,
		ClientID:  "cli",
		Details:   fmt.Sprintf("active=%t", active),
	})

	if active {
		fmt.Printf("Reactivated %q\n", username)
	} else {
		fmt.Printf("Deactivated %q\n", username)
	}
	return nil
}
