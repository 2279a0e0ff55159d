// Command roomyctl is the operator CLI for roomy.chat: registering and
// inspecting Discord↔Chat bridge pairings, kept deliberately apart
// from the roomy-bridge daemon so pairing state can be managed without
// a live Discord session.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"roomy.chat/bridge"
	"roomy.chat/kvstore"
)

var dbPath string

func main() {
	root := &cobra.Command{
		Use:   "roomyctl",
		Short: "Manage roomy.chat Discord bridge pairings",
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "roomy-bridge.db", "bolt database path shared with roomy-bridge")

	root.AddCommand(registerCmd(), listCmd(), deregisterCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openRegistrationStore() (*kvstore.Store, *bridge.RegistrationStore, error) {
	kv, err := kvstore.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	return kv, bridge.NewRegistrationStore(kv), nil
}

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <guild-id> <space-id>",
		Short: "Pair a Discord guild with a chat space",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, reg, err := openRegistrationStore()
			if err != nil {
				return err
			}
			defer kv.Close()

			guildID, spaceID := args[0], args[1]
			if existing, ok := reg.SpaceForGuild(guildID); ok && existing != spaceID {
				return fmt.Errorf("guild %s is already paired with space %s", guildID, existing)
			}
			if existing, ok := reg.GuildForSpace(spaceID); ok && existing != guildID {
				return fmt.Errorf("space %s is already paired with guild %s", spaceID, existing)
			}
			if err := reg.Register(guildID, spaceID); err != nil {
				return fmt.Errorf("register: %w", err)
			}
			fmt.Printf("registered guild %s <-> space %s\n", guildID, spaceID)
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered (guild, space) pairing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, reg, err := openRegistrationStore()
			if err != nil {
				return err
			}
			defer kv.Close()

			pairs, err := reg.All()
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			if len(pairs) == 0 {
				fmt.Println("no registered pairings")
				return nil
			}
			for _, p := range pairs {
				fmt.Printf("%s <-> %s\n", p.GuildID, p.SpaceID)
			}
			return nil
		},
	}
}

func deregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deregister <guild-id> <space-id>",
		Short: "Remove a pairing and its relay state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, reg, err := openRegistrationStore()
			if err != nil {
				return err
			}
			defer kv.Close()

			guildID, spaceID := args[0], args[1]
			if err := reg.Deregister(guildID, spaceID); err != nil {
				return fmt.Errorf("deregister: %w", err)
			}
			pair := bridge.NewPairStore(kv, guildID, spaceID)
			if err := pair.DeregisterAll(); err != nil {
				return fmt.Errorf("clear relay state: %w", err)
			}
			fmt.Printf("deregistered guild %s <-> space %s\n", guildID, spaceID)
			return nil
		},
	}
}
