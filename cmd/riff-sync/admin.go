package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/marcus/riff/internal/api"
	"github.com/marcus/riff/internal/serverdb"
	"github.com/spf13/pflag"
)

// runAdmin dispatches an admin subcommand and returns the process exit code.
func runAdmin(args []string) int {
	return admin(args, os.Stdout, os.Stderr)
}

func admin(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printAdminUsage(stderr)
		return 1
	}

	var err error
	switch args[0] {
	case "create-user":
		err = runCreateUser(args[1:], stdout)
	case "list-users":
		err = runListUsers(args[1:], stdout)
	case "create-key":
		err = runCreateKey(args[1:], stdout)
	case "revoke-key":
		err = runRevokeKey(args[1:], stdout)
	default:
		fmt.Fprintf(stderr, "unknown admin command: %s\n", args[0])
		printAdminUsage(stderr)
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func printAdminUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: riff-sync admin <command> [flags]

Commands:
  create-user <email>  Create a user and print its id and a new API key
  list-users           List registered users
  create-key <email>   Issue another API key for a user
  revoke-key <email> <key-id>  Revoke one of a user's API keys`)
}

func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	dbPath := fs.String("db", "", "path to server.db (default: from RIFF_SYNC_DB_PATH or ./data/server.db)")
	return fs, dbPath
}

func openDB(dbPath string) (*serverdb.ServerDB, error) {
	if dbPath == "" {
		dbPath = api.LoadConfig().ServerDBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

func runCreateUser(args []string, out io.Writer) error {
	fs, dbPath := newFlagSet("admin create-user")
	keyName := fs.String("key-name", "default", "name for the first API key")
	expires := fs.Duration("expires", 0, "API key lifetime (0 = never expires)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: riff-sync admin create-user <email>")
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := store.CreateUser(fs.Arg(0))
	if err != nil {
		return err
	}
	plaintext, _, err := store.GenerateAPIKey(user.ID, *keyName, expiry(*expires))
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "created user %s\n", user.Email)
	fmt.Fprintf(out, "  user id: %s\n", user.ID)
	fmt.Fprintf(out, "  key:     %s\n", plaintext)
	fmt.Fprintf(out, "\nLog in with: riff auth login --user %s --key %s\n", user.ID, plaintext)
	fmt.Fprintln(out, "Save this key now -- it will not be shown again.")
	return nil
}

func runListUsers(args []string, out io.Writer) error {
	fs, dbPath := newFlagSet("admin list-users")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	users, err := store.ListUsers()
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Fprintln(out, "no users")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tKEYS\tCREATED")
	for _, u := range users {
		keys, err := store.ListAPIKeys(u.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", u.ID, u.Email, len(keys), u.CreatedAt.Format(time.DateOnly))
	}
	return tw.Flush()
}

func runCreateKey(args []string, out io.Writer) error {
	fs, dbPath := newFlagSet("admin create-key")
	name := fs.String("name", "", "key name (e.g. laptop)")
	expires := fs.Duration("expires", 0, "key lifetime (0 = never expires)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: riff-sync admin create-key <email> --name <name>")
	}
	if *name == "" {
		return errors.New("--name is required")
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := lookupUser(store, fs.Arg(0))
	if err != nil {
		return err
	}
	plaintext, ak, err := store.GenerateAPIKey(user.ID, *name, expiry(*expires))
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "created API key for %s\n", user.Email)
	fmt.Fprintf(out, "  id:   %s\n", ak.ID)
	fmt.Fprintf(out, "  name: %s\n", ak.Name)
	fmt.Fprintf(out, "  key:  %s\n", plaintext)
	fmt.Fprintln(out, "\nSave this key now -- it will not be shown again.")
	return nil
}

func runRevokeKey(args []string, out io.Writer) error {
	fs, dbPath := newFlagSet("admin revoke-key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: riff-sync admin revoke-key <email> <key-id>")
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := lookupUser(store, fs.Arg(0))
	if err != nil {
		return err
	}
	if err := store.RevokeAPIKey(fs.Arg(1), user.ID); err != nil {
		return err
	}
	fmt.Fprintf(out, "revoked %s for %s\n", fs.Arg(1), user.Email)
	return nil
}

func lookupUser(store *serverdb.ServerDB, email string) (*serverdb.User, error) {
	user, err := store.GetUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user not found: %s", email)
	}
	return user, nil
}

func expiry(d time.Duration) *time.Time {
	if d <= 0 {
		return nil
	}
	t := time.Now().UTC().Add(d)
	return &t
}
