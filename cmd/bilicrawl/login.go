package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bilicrawl/pkg/auth"
	"bilicrawl/pkg/logger"
)

var (
	// Login command flags
	loginName   string
	loginPNG    string
	loginList   bool
	loginLogout string
)

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with a QR code and store the session",
	Long: `Log in to Bilibili by scanning a QR code with the mobile app.

The QR code is rendered in the terminal (and optionally saved as a PNG
for terminals that cannot display it). Once the login is confirmed on
the phone, the session cookie and CSRF token are stored securely:

  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - BILICRAWL_COOKIE / BILICRAWL_CSRF_TOKEN environment variables
    remain supported as a read-only fallback

Never share your cookie or config files!`,
	Example: `  # Interactive QR login
  bilicrawl login

  # Store under a name and also write the QR code as a PNG
  bilicrawl login --account work --qr-png ./qr.png

  # List stored accounts
  bilicrawl login --list

  # Remove a stored account
  bilicrawl login --logout work`,
	Args: cobra.NoArgs,
	Run:  runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVarP(&loginName, "account", "a", "", "name to store the account under (default: default)")
	loginCmd.Flags().StringVar(&loginPNG, "qr-png", "", "also write the QR code to this PNG file")
	loginCmd.Flags().BoolVar(&loginList, "list", false, "list stored accounts and exit")
	loginCmd.Flags().StringVar(&loginLogout, "logout", "", "remove the named stored account and exit")
}

func runLogin(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize credential manager:", err)
		os.Exit(1)
	}

	switch {
	case loginList:
		listAccounts(manager)
		return
	case loginLogout != "":
		if err := manager.Delete(loginLogout); err != nil {
			fmt.Fprintf(os.Stderr, "failed to remove account %q: %v\n", loginLogout, err)
			os.Exit(1)
		}
		fmt.Printf("removed account %q\n", loginLogout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	account, err := auth.NewQRLogin(os.Stdout, loginPNG, logger.GetLogger()).Login(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "login failed:", err)
		os.Exit(1)
	}

	account.Name = loginName
	if err := manager.Store(account); err != nil {
		fmt.Fprintln(os.Stderr, "failed to store credentials:", err)
		os.Exit(1)
	}

	fmt.Printf("logged in, credentials stored as %q\n", account.Name)
}

func listAccounts(manager *auth.Manager) {
	accounts, err := manager.List()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to list accounts:", err)
		os.Exit(1)
	}
	if len(accounts) == 0 {
		fmt.Println("no stored accounts, run 'bilicrawl login' to add one")
		return
	}
	for _, account := range accounts {
		s := auth.SanitizeAccount(account)
		fmt.Printf("%s\tcookie=%s\tcsrf=%s\tmodified=%s\n",
			s.Name, s.Cookie, s.CSRFToken, s.LastModified.Format("2006-01-02 15:04"))
	}
}
