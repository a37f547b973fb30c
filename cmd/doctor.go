package cmd

import (
	"context"
	"fmt"

	"github.com/marcus/riff/internal/db"
	"github.com/marcus/riff/internal/remote"
	"github.com/marcus/riff/internal/syncclient"
	"github.com/marcus/riff/internal/syncconfig"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	Short:   "Run diagnostic checks for sync setup",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runDoctor(cmd.Context())
		return nil
	},
}

func runDoctor(ctx context.Context) {
	// 1. Auth config
	auth, err := syncconfig.LoadAuth()
	authOK := err == nil && auth != nil && auth.APIKey != ""
	if authOK {
		fmt.Printf("Auth config ............ OK (%s)\n", auth.UserID)
	} else if err != nil {
		fmt.Printf("Auth config ............ FAIL (%v)\n", err)
	} else {
		fmt.Printf("Auth config ............ FAIL (not logged in)\n")
	}

	// 2. Server reachable; the health check needs no key
	serverURL := syncconfig.GetServerURL()
	pctx, cancel := context.WithTimeout(ctx, syncconfig.GetRequestTimeout())
	err = syncclient.New(serverURL, "").Ping(pctx)
	cancel()
	serverOK := err == nil
	if serverOK {
		fmt.Printf("Server reachable ....... OK (%s)\n", serverURL)
	} else {
		fmt.Printf("Server reachable ....... FAIL (%v)\n", err)
	}

	// 3. Auth valid
	if !authOK || !serverOK {
		fmt.Printf("Auth valid ............. SKIP\n")
	} else if err := verifyCredentials(ctx, serverURL, auth.UserID, syncconfig.GetAPIKey()); err == nil {
		fmt.Printf("Auth valid ............. OK\n")
	} else if remote.IsAuth(err) {
		fmt.Printf("Auth valid ............. FAIL (invalid or expired API key)\n")
	} else {
		fmt.Printf("Auth valid ............. FAIL (%v)\n", err)
	}

	// 4. Local database
	database, err := openStore()
	dbOK := err == nil
	if dbOK {
		defer database.Close()
		fmt.Printf("Local database ......... OK (%s)\n", database.DataDir())
	} else {
		fmt.Printf("Local database ......... FAIL (%v)\n", err)
	}

	// 5. Sync linked
	var syncState *db.SyncState
	if !dbOK {
		fmt.Printf("Sync linked ............ SKIP\n")
	} else {
		syncState, err = database.GetSyncState()
		switch {
		case err != nil:
			fmt.Printf("Sync linked ............ FAIL (%v)\n", err)
		case syncState == nil:
			fmt.Printf("Sync linked ............ WARN (not linked to an account)\n")
		case authOK && syncState.UserID != auth.UserID:
			fmt.Printf("Sync linked ............ FAIL (store is linked to %s, credentials are for %s)\n", syncState.UserID, auth.UserID)
		case syncState.AuthRequired:
			fmt.Printf("Sync linked ............ WARN (server rejected credentials; run 'riff auth login')\n")
		case syncState.SyncDisabled:
			fmt.Printf("Sync linked ............ WARN (sync disabled on this device)\n")
		default:
			fmt.Printf("Sync linked ............ OK (user %s, %s)\n", syncState.UserID, configuredStrategy(syncState))
		}
	}

	// 6. Pending writes and held conflicts
	if !dbOK {
		fmt.Printf("Pending writes ......... SKIP\n")
		fmt.Printf("Conflicts .............. SKIP\n")
		return
	}
	if count, err := database.QueueLen(); err != nil {
		fmt.Printf("Pending writes ......... FAIL (%v)\n", err)
	} else {
		fmt.Printf("Pending writes ......... %d\n", count)
	}
	if conflicts, err := database.ListConflicts(); err != nil {
		fmt.Printf("Conflicts .............. FAIL (%v)\n", err)
	} else if len(conflicts) > 0 {
		fmt.Printf("Conflicts .............. WARN (%d held; run 'riff conflicts')\n", len(conflicts))
	} else {
		fmt.Printf("Conflicts .............. 0\n")
	}
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
