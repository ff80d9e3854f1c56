package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tcriess/stride-chat/auth"
	"github.com/tcriess/stride-chat/config"
	"github.com/tcriess/stride-chat/globals"
	"github.com/tcriess/stride-chat/persistence"
	"github.com/tcriess/stride-chat/profiles"
	"github.com/tcriess/stride-chat/sequencer"
	"github.com/tcriess/stride-chat/types"
)

// app carries what the commands share. Tests set store up front; otherwise
// it is opened from the configuration before the first command runs.
type app struct {
	cfg   *config.Config
	store persistence.Store
	in    io.Reader
	out   io.Writer
}

func main() {
	a := &app{in: os.Stdin, out: os.Stdout}
	if err := newRootCmd(a).Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) open(flags *pflag.FlagSet, configPath string) error {
	cfg, err := config.ReadConfiguration(configPath, flags)
	if err != nil {
		globals.AppLogger.Error("could not read configuration", "error", err)
		return err
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))
	a.cfg = cfg
	if a.store != nil {
		return nil
	}
	store, err := persistence.OpenGormStore(cfg.PersistenceConfig)
	if err != nil {
		globals.AppLogger.Error("could not open store", "error", err)
		return err
	}
	a.store = store
	return nil
}

// coordinator runs sequencing operations from the tool. Without a dispatcher
// in this process, connected sessions pick the results up from history.
func (a *app) coordinator(logger hclog.Logger) (*sequencer.Coordinator, error) {
	directory, err := profiles.NewDirectory(a.store, 1, logger)
	if err != nil {
		return nil, err
	}
	return sequencer.New(a.store, nil, directory, nil, sequencer.Options{}, logger), nil
}

// readDefinition reads a JSON definition from the argument, or from in when the argument is "-".
func readDefinition(arg string, in io.Reader, v interface{}) error {
	r := in
	if arg != "-" {
		r = bytes.NewReader([]byte(arg))
	}
	return json.NewDecoder(r).Decode(v)
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// verifyReport is the outcome of a room consistency check.
type verifyReport struct {
	RoomId       string   `json:"roomId"`
	SeqCounter   int64    `json:"seqCounter"`
	Messages     int64    `json:"messages"`
	DistinctSeqs int64    `json:"distinctSeqs"`
	MinSeq       int64    `json:"minSeq"`
	MaxSeq       int64    `json:"maxSeq"`
	Problems     []string `json:"problems"`
}

func (r *verifyReport) Ok() bool {
	return len(r.Problems) == 0
}

// verifyRoom checks that every counter value was used by exactly one message.
func verifyRoom(ctx context.Context, store persistence.Store, roomId string) (*verifyReport, error) {
	room, err := store.GetRoom(ctx, roomId)
	if err != nil {
		return nil, err
	}
	stats, err := store.MessageStats(ctx, roomId)
	if err != nil {
		return nil, err
	}
	report := &verifyReport{
		RoomId:       roomId,
		SeqCounter:   room.SeqCounter,
		Messages:     stats.Count,
		DistinctSeqs: stats.DistinctSeqs,
		MinSeq:       stats.MinSeq,
		MaxSeq:       stats.MaxSeq,
		Problems:     []string{},
	}
	if stats.Count != room.SeqCounter {
		report.Problems = append(report.Problems, fmt.Sprintf("seq counter is %d but the room holds %d messages", room.SeqCounter, stats.Count))
	}
	if stats.DistinctSeqs != stats.Count {
		report.Problems = append(report.Problems, fmt.Sprintf("%d messages share a seq", stats.Count-stats.DistinctSeqs))
	}
	if stats.Count > 0 && (stats.MinSeq != 1 || stats.MaxSeq != room.SeqCounter) {
		report.Problems = append(report.Problems, fmt.Sprintf("seqs span %d..%d, expected 1..%d", stats.MinSeq, stats.MaxSeq, room.SeqCounter))
	}
	return report, nil
}

func newRootCmd(a *app) *cobra.Command {
	ctx := context.Background()
	logger := globals.AppLogger

	var cmdRoom = &cobra.Command{
		Use:   "room",
		Short: "Manage rooms",
	}
	var cmdRoomCreate = &cobra.Command{
		Use:   "create [room definition]",
		Short: "Create room",
		Long:  `create room creates a room from a JSON definition ({"id", "name", "ownerId", "capacity", ...}). If the room definition is "-", the definition is read from STDIN.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := types.RoomSpec{}
			if err := readDefinition(args[0], a.in, &spec); err != nil {
				logger.Error("could not decode room", "error", err)
				return err
			}
			room, err := a.store.CreateRoom(ctx, spec)
			if err != nil {
				logger.Error("could not create room", "error", err)
				return err
			}
			return printJSON(a.out, room)
		},
	}
	var cmdRoomShow = &cobra.Command{
		Use:   "show [room id]",
		Short: "Show room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := a.store.GetRoom(ctx, args[0])
			if err != nil {
				logger.Error("could not get room", "error", err)
				return err
			}
			return printJSON(a.out, room)
		},
	}
	var cmdRoomClose = &cobra.Command{
		Use:   "close [room id]",
		Short: "Close room",
		Long:  `close room stops the room from accepting messages and joins. Its history stays readable.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.CloseRoom(ctx, args[0]); err != nil {
				logger.Error("could not close room", "error", err)
				return err
			}
			return nil
		},
	}
	var listCursor string
	var listLimit int
	var cmdRoomList = &cobra.Command{
		Use:   "list",
		Short: "List rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rooms, next, err := a.store.ListRooms(ctx, listCursor, listLimit)
			if err != nil {
				logger.Error("could not list rooms", "error", err)
				return err
			}
			return printJSON(a.out, map[string]interface{}{"items": rooms, "nextCursor": next})
		},
	}
	cmdRoomList.Flags().StringVar(&listCursor, "cursor", "", "cursor of the next page")
	cmdRoomList.Flags().IntVar(&listLimit, "limit", 0, "page size")
	var cmdRoomTags = &cobra.Command{
		Use:   "tags [room id] [tag updates]",
		Short: "Update room tags",
		Long: `tags applies a JSON array of tag updates ({"name", "type", "index", "expression"}) to the room's tags in one step.
Expressions read the current tags as Tags, e.g. AsInt(Tags["level"]) + 1. If the updates are "-", they are read from STDIN.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates := []*types.TagUpdate{}
			if err := readDefinition(args[1], a.in, &updates); err != nil {
				logger.Error("could not decode tag updates", "error", err)
				return err
			}
			applied, err := a.store.UpdateRoomTags(ctx, args[0], updates)
			if err != nil {
				logger.Error("could not update tags", "error", err)
				return err
			}
			room, err := a.store.GetRoom(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(a.out, map[string]interface{}{"applied": applied, "tags": room.Tags})
		},
	}
	var cmdRoomNotice = &cobra.Command{
		Use:   "notice [room id] [text]",
		Short: "Post a system message",
		Long:  `notice posts a system message to the room. It takes the room's next seq and counts as unread for every member.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coordinator, err := a.coordinator(logger)
			if err != nil {
				return err
			}
			res, err := coordinator.Notice(ctx, args[0], args[1])
			if err != nil {
				logger.Error("could not post notice", "error", err)
				return err
			}
			return printJSON(a.out, res.Message)
		},
	}

	var role string
	var cmdMember = &cobra.Command{
		Use:   "member",
		Short: "Manage room memberships",
	}
	var cmdMemberAdd = &cobra.Command{
		Use:   "add [room id] [user id]",
		Short: "Add member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			member, joined, err := a.store.UpsertMember(ctx, args[0], args[1], types.Role(role))
			if err != nil {
				logger.Error("could not add member", "error", err)
				return err
			}
			if !joined {
				logger.Info("user already is a member", "room", args[0], "user", args[1])
			}
			return printJSON(a.out, member)
		},
	}
	cmdMemberAdd.Flags().StringVar(&role, "role", string(types.RoleMember), "role of the member (owner, admin, member)")
	var cmdMemberRemove = &cobra.Command{
		Use:   "remove [room id] [user id]",
		Short: "Remove member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := a.store.RemoveMember(ctx, args[0], args[1])
			if err != nil {
				logger.Error("could not remove member", "error", err)
				return err
			}
			if !removed {
				logger.Info("user was not a member", "room", args[0], "user", args[1])
			}
			return nil
		},
	}
	var cmdMemberRead = &cobra.Command{
		Use:   "read [room id] [user id] [seq]",
		Short: "Commit a read position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return err
			}
			coordinator, err := a.coordinator(logger)
			if err != nil {
				return err
			}
			unread, err := coordinator.CommitRead(ctx, args[1], args[0], seq)
			if err != nil {
				logger.Error("could not commit read position", "error", err)
				return err
			}
			return printJSON(a.out, map[string]int64{"unread": unread})
		},
	}

	var cmdUser = &cobra.Command{
		Use:   "user",
		Short: "Manage user profiles",
	}
	var cmdUserSet = &cobra.Command{
		Use:   "set [user definition]",
		Short: "Set user",
		Long:  `set user creates or updates a user with the given definition. If the user definition is "-", it is read from STDIN.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := types.User{}
			if err := readDefinition(args[0], a.in, &user); err != nil {
				logger.Error("could not decode user", "error", err)
				return err
			}
			if user.Id == "" {
				logger.Error("no user id")
				return fmt.Errorf("no user id")
			}
			user.UpdatedAt = time.Now().UTC()
			if err := a.store.StoreUser(ctx, &user); err != nil {
				logger.Error("could not store user", "error", err)
				return err
			}
			return nil
		},
	}
	var cmdUserShow = &cobra.Command{
		Use:   "show [user id]",
		Short: "Show user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.store.GetUser(ctx, args[0])
			if err != nil {
				logger.Error("could not get user", "error", err)
				return err
			}
			return printJSON(a.out, user)
		},
	}
	var cmdUserDelete = &cobra.Command{
		Use:   "delete [user id]",
		Short: "Delete user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.DeleteUser(ctx, args[0]); err != nil {
				logger.Error("could not delete user", "error", err)
				return err
			}
			return nil
		},
	}

	var pageCursor string
	var pageLimit int
	var cmdMessages = &cobra.Command{
		Use:   "messages [room id]",
		Short: "List messages of a room, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, next, err := a.store.ListMessages(ctx, args[0], pageCursor, pageLimit)
			if err != nil {
				logger.Error("could not list messages", "error", err)
				return err
			}
			return printJSON(a.out, map[string]interface{}{"items": msgs, "nextCursor": next})
		},
	}
	cmdMessages.Flags().StringVar(&pageCursor, "cursor", "", "cursor of the next page")
	cmdMessages.Flags().IntVar(&pageLimit, "limit", 0, "page size")
	var cmdMessage = &cobra.Command{
		Use:   "message",
		Short: "Moderate single messages",
	}
	var cmdMessageDelete = &cobra.Command{
		Use:   "delete [room id] [message id]",
		Short: "Delete message",
		Long:  `delete hides the message from history. Its seq stays taken.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.SoftDeleteMessage(ctx, args[0], args[1]); err != nil {
				logger.Error("could not delete message", "error", err)
				return err
			}
			return nil
		},
	}
	var cmdInbox = &cobra.Command{
		Use:   "inbox [user id]",
		Short: "Show the notification inbox of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, next, err := a.store.ListInbox(ctx, args[0], pageCursor, pageLimit)
			if err != nil {
				logger.Error("could not list inbox", "error", err)
				return err
			}
			return printJSON(a.out, map[string]interface{}{"items": items, "nextCursor": next})
		},
	}
	cmdInbox.Flags().StringVar(&pageCursor, "cursor", "", "cursor of the next page")
	cmdInbox.Flags().IntVar(&pageLimit, "limit", 0, "page size")
	var cmdVerify = &cobra.Command{
		Use:   "verify [room id]",
		Short: "Check the sequence consistency of a room",
		Long:  `verify checks that the room's seq counter equals its message count and that no two messages share a seq.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := verifyRoom(ctx, a.store, args[0])
			if err != nil {
				logger.Error("could not verify room", "error", err)
				return err
			}
			if err := printJSON(a.out, report); err != nil {
				return err
			}
			if !report.Ok() {
				return fmt.Errorf("room %s is inconsistent", args[0])
			}
			return nil
		},
	}

	var tokenName string
	var tokenTTL time.Duration
	var cmdToken = &cobra.Command{
		Use:   "token [user id]",
		Short: "Issue a session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.AuthConfig.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}
			token, err := auth.NewJWTAuthenticator(a.cfg.AuthConfig.JWTSecret, a.cfg.AuthConfig.JWTIssuer).Issue(args[0], tokenName, tokenTTL)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, token)
			return err
		},
	}
	cmdToken.Flags().StringVar(&tokenName, "name", "", "display name claim")
	cmdToken.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "validity of the token")

	var configPath string
	var rootCmd = &cobra.Command{
		Use:          "stride-chat-admin",
		Short:        "A simple CLI tool for the administration of stride-chat rooms, members and users",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Flags(), configPath)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.store != nil {
				_ = a.store.Close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")
	rootCmd.PersistentFlags().AddFlagSet(config.GetFlagSet())
	rootCmd.SetOut(a.out)
	rootCmd.AddCommand(cmdRoom, cmdMember, cmdUser, cmdMessages, cmdMessage, cmdInbox, cmdVerify, cmdToken)
	cmdRoom.AddCommand(cmdRoomCreate, cmdRoomShow, cmdRoomClose, cmdRoomList, cmdRoomTags, cmdRoomNotice)
	cmdMessage.AddCommand(cmdMessageDelete)
	cmdMember.AddCommand(cmdMemberAdd, cmdMemberRemove, cmdMemberRead)
	cmdUser.AddCommand(cmdUserSet, cmdUserShow, cmdUserDelete)
	return rootCmd
}
