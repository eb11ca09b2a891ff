package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/jot/internal/apperr"
	"github.com/matheus3301/jot/internal/bus"
	"github.com/matheus3301/jot/internal/model"
	"github.com/spf13/cobra"
)

func newRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <name> <email>",
		Short: "Create a user and sign in",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(cmd.Context(), runMode{}, func(ctx context.Context, s *session) error {
				u, err := s.replica.Register(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				printUser(u)
				return nil
			})
		},
	}
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <user-id>",
		Short: "Sign in as an existing user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(cmd.Context(), runMode{}, func(ctx context.Context, s *session) error {
				u, err := s.replica.Login(ctx, args[0])
				if err != nil {
					return err
				}
				printUser(u)
				return nil
			})
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out, keeping unsynced data for the next login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReplica(cmd.Context(), runMode{}, func(ctx context.Context, s *session) error {
				if err := s.replica.Logout(ctx); err != nil {
					return err
				}
				if globals.json {
					outputJSON(map[string]bool{"success": true})
					return nil
				}
				fmt.Println("Signed out.")
				return nil
			})
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReplica(cmd.Context(), runMode{}, func(_ context.Context, s *session) error {
				u := s.replica.User()
				if u == nil {
					if globals.json {
						outputJSON(map[string]any{"user": nil})
						return nil
					}
					fmt.Println("Not signed in.")
					return nil
				}
				printUser(*u)
				return nil
			})
		},
	}
}

func newChatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List and manage chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReplica(cmd.Context(), runMode{}, func(_ context.Context, s *session) error {
				printChats(s.replica.Chats())
				return nil
			})
		},
	}

	var pic string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(cmd.Context(), runMode{}, func(ctx context.Context, s *session) error {
				c, err := s.replica.AddChat(ctx, args[0], pic)
				if err != nil {
					return err
				}
				printChats([]model.Chat{c})
				return nil
			})
		},
	}
	add.Flags().StringVar(&pic, "pic", "", "profile picture URL")

	rename := &cobra.Command{
		Use:   "rename <chat-id> <name>",
		Short: "Rename a chat",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(cmd.Context(), runMode{}, func(ctx context.Context, s *session) error {
				name := args[1]
				c, err := s.replica.UpdateChat(ctx, args[0], model.ChatPatch{Name: &name})
				if err != nil {
					return err
				}
				printChats([]model.Chat{c})
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <chat-id>",
		Short: "Delete a chat and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(cmd.Context(), runMode{}, func(ctx context.Context, s *session) error {
				if err := s.replica.DeleteChat(ctx, args[0]); err != nil {
					return err
				}
				if globals.json {
					outputJSON(map[string]any{"success": true, "id": args[0]})
					return nil
				}
				fmt.Printf("Deleted chat %s.\n", args[0])
				return nil
			})
		},
	}

	read := &cobra.Command{
		Use:   "read <chat-id>",
		Short: "Mark every message in a chat as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(cmd.Context(), runMode{}, func(ctx context.Context, s *session) error {
				n, err := s.replica.MarkChatRead(ctx, args[0])
				if err != nil {
					return err
				}
				if globals.json {
					outputJSON(map[string]int{"marked": n})
					return nil
				}
				fmt.Printf("Marked %d message(s) read.\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(add, rename, del, read)
	return cmd
}

func newMessagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "messages <chat-id>",
		Short: "List a chat's messages, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(cmd.Context(), runMode{}, func(ctx context.Context, s *session) error {
				msgs, err := s.replica.LoadMessages(ctx, args[0])
				if err != nil {
					return err
				}
				if globals.json {
					outputJSON(msgs)
					return nil
				}
				for _, m := range msgs {
					fmt.Printf("[%s] %-9s %s\n", m.Time, m.Status, m.Text)
				}
				return nil
			})
		},
	}
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <chat-id> <text...>",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(cmd.Context(), runMode{}, func(ctx context.Context, s *session) error {
				m, err := s.replica.SendMessage(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				if globals.json {
					outputJSON(m)
					return nil
				}
				fmt.Printf("Queued message %s.\n", m.ID)
				return nil
			})
		},
	}
}

func newMarkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark <chat-id> <message-id> <sent|delivered|read>",
		Short: "Set a message's delivery status",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := model.ParseStatus(args[2])
			if err != nil {
				return err
			}
			return withReplica(cmd.Context(), runMode{}, func(ctx context.Context, s *session) error {
				m, err := s.replica.UpdateMessageStatus(ctx, args[0], args[1], st)
				if err != nil {
					return err
				}
				if globals.json {
					outputJSON(m)
					return nil
				}
				fmt.Printf("Message %s is %s.\n", m.ID, m.Status)
				return nil
			})
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReplica(cmd.Context(), runMode{}, func(ctx context.Context, s *session) error {
				report, err := s.replica.Sync(ctx)
				if err != nil {
					return err
				}
				if globals.json {
					outputJSON(report)
					return nil
				}
				st := report.Stats
				fmt.Printf("Synced in %s: %d queued change(s) drained.\n",
					report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond), report.Drained)
				fmt.Printf("Chats:    %d created, %d updated, %d adopted, %d deleted, %d previews refreshed\n",
					st.ChatsCreated, st.ChatsUpdated, st.ChatsAdopted, st.ChatsDeleted, st.PreviewsRefreshed)
				fmt.Printf("Messages: %d created, %d status pushes, %d adopted\n",
					st.MessagesCreated, st.StatusesPushed, st.MessagesAdopted)
				for _, sk := range report.Skipped {
					fmt.Printf("Skipped:  %s\n", sk)
				}
				if len(report.PendingDeletes) > 0 {
					fmt.Printf("Pending deletes: %s\n", strings.Join(report.PendingDeletes, ", "))
				}
				return nil
			})
		},
	}
}

func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show session and sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReplica(cmd.Context(), runMode{}, func(ctx context.Context, s *session) error {
				depth, err := s.replica.QueueDepth(ctx)
				if err != nil {
					return err
				}
				state := s.replica.SyncState()
				out := struct {
					Session      string     `json:"session"`
					Syncing      bool       `json:"syncing"`
					LastSyncTime *time.Time `json:"lastSyncTime,omitempty"`
					Queued       int        `json:"queued"`
				}{
					Session:      string(s.replica.Machine().Current()),
					Syncing:      state.Syncing,
					LastSyncTime: state.LastSyncTime,
					Queued:       depth,
				}
				if globals.json {
					outputJSON(out)
					return nil
				}
				last := "never"
				if out.LastSyncTime != nil {
					last = out.LastSyncTime.Local().Format(time.RFC3339)
				}
				fmt.Printf("Session:   %s\n", out.Session)
				fmt.Printf("Last sync: %s\n", last)
				fmt.Printf("Queued:    %d\n", out.Queued)
				return nil
			})
		},
	}
}

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List mutations waiting for the next sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReplica(cmd.Context(), runMode{}, func(ctx context.Context, s *session) error {
				entries, err := s.replica.PendingChanges(ctx)
				if err != nil {
					return err
				}
				if globals.json {
					outputJSON(entries)
					return nil
				}
				for _, e := range entries {
					fmt.Printf("%s  %-14s %s\n", e.Timestamp.Local().Format(time.RFC3339), e.Type, e.Payload)
				}
				return nil
			})
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep the replica open, syncing periodically until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withReplica(ctx, runMode{background: true}, func(ctx context.Context, s *session) error {
				events, unsub := s.bus.Subscribe("", 64)
				defer unsub()
				defer func() {
					if n := s.bus.Dropped(); n > 0 {
						fmt.Fprintf(os.Stderr, "%d event(s) not shown: output fell behind\n", n)
					}
				}()
				if s.replica.User() == nil {
					return apperr.Session("run")
				}
				for {
					select {
					case <-ctx.Done():
						return nil
					case evt, ok := <-events:
						if !ok {
							return nil
						}
						printEvent(evt)
					}
				}
			})
		},
	}
}

func printUser(u model.User) {
	if globals.json {
		outputJSON(u)
		return
	}
	fmt.Printf("ID:    %s\n", u.ID)
	fmt.Printf("Name:  %s\n", u.Name)
	fmt.Printf("Email: %s\n", u.Email)
}

func printChats(chats []model.Chat) {
	if globals.json {
		if chats == nil {
			chats = []model.Chat{}
		}
		outputJSON(chats)
		return
	}
	for _, c := range chats {
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
		}
		fmt.Printf("%s  %s%s\n", c.ID, c.Name, unread)
		if c.LastMessage != "" {
			fmt.Printf("    %s\n", c.LastMessage)
		}
	}
}

func printEvent(evt bus.Event) {
	if globals.json {
		outputJSON(evt)
		return
	}
	fmt.Printf("%s  %s\n", evt.Timestamp.Format(time.TimeOnly), evt.Kind)
}
