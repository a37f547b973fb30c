package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/output"
	"github.com/marcus/riff/internal/remote"
	"github.com/marcus/riff/internal/syncclient"
	"github.com/marcus/riff/internal/syncconfig"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Manage sync credentials",
	GroupID: "sync",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Link this device to a riff-sync account",
	Long: `Stores an API key issued by 'riff-sync admin create-user' or 'create-key' and
links the local store to that user. Without --key/--user the values are
prompted for.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		userID, _ := cmd.Flags().GetString("user")
		serverURL, _ := cmd.Flags().GetString("server")
		if serverURL == "" {
			serverURL = syncconfig.GetServerURL()
		}

		if key == "" || userID == "" {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("--key and --user are required when not running in a terminal")
			}
			if err := promptCredentials(&userID, &key); err != nil {
				return err
			}
		}
		userID, key = strings.TrimSpace(userID), strings.TrimSpace(key)
		if userID == "" || key == "" {
			return errors.New("user id and API key are required")
		}

		if err := verifyCredentials(cmd.Context(), serverURL, userID, key); err != nil {
			if !remote.IsUnavailable(err) {
				return err
			}
			output.Warning("server unreachable, saving credentials anyway: %v", err)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		st, err := store.GetSyncState()
		if err != nil {
			return err
		}
		switch {
		case st != nil && st.UserID != userID:
			return fmt.Errorf("this store is linked to %s (run: riff auth logout)", st.UserID)
		case st != nil:
			if err := store.SetAuthRequired(false); err != nil {
				return err
			}
		default:
			strategy := cmd.Flags().Lookup("strategy").Value.(*strategyFlag).value
			if strategy == "" {
				strategy = configuredStrategy(nil)
			}
			if err := store.SetSyncState(userID, string(strategy)); err != nil {
				return err
			}
			if err := store.MarkAllDirty(); err != nil {
				return err
			}
		}

		deviceID, err := syncconfig.GetDeviceID()
		if err != nil {
			return fmt.Errorf("get device id: %w", err)
		}
		creds := &syncconfig.AuthCredentials{
			APIKey:    key,
			UserID:    userID,
			ServerURL: serverURL,
			DeviceID:  deviceID,
		}
		if err := syncconfig.SaveAuth(creds); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}

		output.Success("Logged in as %s on %s", userID, serverURL)
		fmt.Println("Run 'riff sync' to sync now, or 'riff daemon' to keep syncing.")
		return nil
	},
}

func promptCredentials(userID, key *string) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("User ID").
				Value(userID),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(key),
		),
	).Run()
}

// verifyCredentials reads the settings collection, which every account can.
func verifyCredentials(ctx context.Context, serverURL, userID, key string) error {
	ctx, cancel := context.WithTimeout(ctx, syncconfig.GetRequestTimeout())
	defer cancel()
	client := syncclient.New(serverURL, key)
	if _, err := client.FetchAll(ctx, userID, models.TypeSettings); err != nil {
		if remote.IsAuth(err) {
			return fmt.Errorf("credentials rejected: %w", err)
		}
		return err
	}
	return nil
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Unlink this device and forget credentials",
	Long: `Clears the sync state, held conflicts and stored credentials. Local records
stay. Pending queued writes are kept for the next login unless
--discard-pending is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if discard, _ := cmd.Flags().GetBool("discard-pending"); discard {
			n, err := store.ClearQueue()
			if err != nil {
				return err
			}
			if n > 0 {
				output.Warning("discarded %d pending writes", n)
			}
		}
		conflicts, err := store.ListConflicts()
		if err != nil {
			return err
		}
		for _, c := range conflicts {
			if err := store.DeleteConflict(c.Type, c.RecordID); err != nil {
				return err
			}
		}
		if err := store.ClearSyncState(); err != nil {
			return err
		}
		if err := syncconfig.ClearAuth(); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := syncconfig.LoadAuth()
		if err != nil {
			return err
		}
		if creds == nil || creds.APIKey == "" {
			fmt.Println("Not logged in.")
			return nil
		}

		keyPrefix := creds.APIKey
		if len(keyPrefix) > 12 {
			keyPrefix = keyPrefix[:12] + "..."
		}
		fmt.Printf("User:   %s\n", creds.UserID)
		fmt.Printf("Server: %s\n", creds.ServerURL)
		fmt.Printf("Key:    %s\n", keyPrefix)
		fmt.Printf("Device: %s\n", creds.DeviceID)

		if store, err := openStore(); err == nil {
			defer store.Close()
			if st, err := store.GetSyncState(); err == nil && st != nil && st.AuthRequired {
				output.Warning("the server rejected these credentials; run 'riff auth login' again")
			}
		}
		return nil
	},
}

func init() {
	authLoginCmd.Flags().String("key", "", "API key (riff_...)")
	authLoginCmd.Flags().String("user", "", "User id the key belongs to")
	authLoginCmd.Flags().String("server", "", "Sync server URL (default from config)")
	authLoginCmd.Flags().Var(&strategyFlag{}, "strategy", "Conflict strategy for this device: latest, merge or manual")
	authLogoutCmd.Flags().Bool("discard-pending", false, "Drop queued writes that have not reached the server")

	authCmd.AddCommand(authLoginCmd, authLogoutCmd, authStatusCmd)
	rootCmd.AddCommand(authCmd)
}
