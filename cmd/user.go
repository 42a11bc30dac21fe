package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

// roleValue is a flag value constrained to the known user roles.
type roleValue string

var _ pflag.Value = (*roleValue)(nil)

func (r *roleValue) String() string { return string(*r) }

func (r *roleValue) Set(s string) error {
	switch s {
	case "admin", "vendedor", "cobrador":
		*r = roleValue(s)
		return nil
	}
	return fmt.Errorf("must be one of: admin, vendedor, cobrador")
}

func (r *roleValue) Type() string { return "role" }

var userCmd = &cobra.Command{
	Use:     "user",
	Short:   "Manage user accounts",
	GroupID: "admin",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a user account",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		role := string(userAddRole)
		password, _ := cmd.Flags().GetString("password")

		if name == "" || email == "" {
			return fmt.Errorf("--name and --email are required")
		}

		if password == "" {
			var err error
			password, err = promptPassword()
			if err != nil {
				return err
			}
		}
		if len(password) < 8 {
			return fmt.Errorf("password must be at least 8 characters")
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		user, err := st.CreateUser(name, email, password, role)
		if err != nil {
			return err
		}

		fmt.Printf("created user %s\n", user.Email)
		fmt.Printf("  id:   %s\n", user.ID)
		fmt.Printf("  role: %s\n", user.Role)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List user accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		users, err := st.ListUsers()
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Println("no users")
			return nil
		}

		for _, u := range users {
			status := "active"
			if !u.Active {
				status = "inactive"
			}
			fmt.Printf("%s  %-30s %-10s %s\n", u.ID, u.Email, u.Role, status)
		}
		return nil
	},
}

var userDeactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Deactivate a user account",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		if email == "" {
			return fmt.Errorf("--email is required")
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		user, err := st.GetUserByEmail(email)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("user not found: %s", email)
		}

		if err := st.SetUserActive(user.ID, false); err != nil {
			return err
		}

		fmt.Printf("deactivated %s\n", strings.ToLower(strings.TrimSpace(email)))
		return nil
	},
}

// promptPassword reads the password twice without echo.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	fmt.Fprint(os.Stderr, "Confirm:  ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}

var userAddRole roleValue = "vendedor"

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd, userListCmd, userDeactivateCmd)

	userAddCmd.Flags().String("name", "", "display name")
	userAddCmd.Flags().String("email", "", "email address")
	userAddCmd.Flags().Var(&userAddRole, "role", "role (admin, vendedor, cobrador)")
	userAddCmd.Flags().String("password", "", "password (prompted if omitted)")

	userDeactivateCmd.Flags().String("email", "", "email address")
}
