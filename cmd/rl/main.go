package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rewardline/internal/app"
	"rewardline/internal/config"
	"rewardline/internal/db"
	"rewardline/internal/domain"
	"rewardline/internal/engine"
	"rewardline/internal/obs"
	"rewardline/internal/repo"
	"rewardline/internal/reward"
	"rewardline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Rewardline CLI",
	Long: `Rewardline coordinates reward tasks split into claimable slots.
A group is a task with N identical seats; each seat carries its share of the
total reward. Participants claim a seat, do the work, submit proof, and the
group creator approves or rejects. Every seat keeps an append-only timeline
of what happened to it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load()
	viper.SetEnvPrefix("REWARDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("actor-name", "", "actor display name")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-name", rootCmd.PersistentFlags().Lookup("actor-name"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(groupCmd())
	rootCmd.AddCommand(slotCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(serveCmd())
}

func actor() domain.Identity {
	return domain.Identity{
		ID:   viper.GetString("actor-id"),
		Name: viper.GetString("actor-name"),
	}
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			a, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer a.Close()
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", cfgPath)
			}
			fmt.Printf("Workspace ready at %s\n", filepath.Join(workspace, ".rewardline"))
			return nil
		},
	}
	return cmd
}

func groupCmd() *cobra.Command {
	group := &cobra.Command{
		Use:   "group",
		Short: "Manage task groups",
		Long:  "A group is one task with a fixed number of claimable slots and a reward pot split across them (equally or by weight). Claiming opens when the registration window does.",
	}
	group.AddCommand(groupCreateCmd())
	group.AddCommand(groupListCmd())
	group.AddCommand(groupShowCmd())
	group.AddCommand(groupSlotsCmd())
	return group
}

func groupCreateCmd() *cobra.Command {
	var opts engine.GroupCreateOptions
	var assignees, weights []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task group with its slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Creator = actor()
			opts.AssigneeIDs = assignees
			parsed, err := parseWeights(weights)
			if err != nil {
				return err
			}
			opts.Weights = parsed
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				g, slots, err := a.Engine.CreateGroup(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"group": g, "slots": slots})
				}
				fmt.Printf("Created group %s (%d slots, %s %s total)\n", g.ID, g.Capacity, g.TotalReward, g.Currency)
				renderSlots(slots)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "group title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().Int64Var(&opts.ActivityID, "activity-id", 0, "external activity id")
	cmd.Flags().StringVar(&opts.RegistrationOpensAt, "opens", "", "registration opens (YYYY-MM-DDTHH:MM, business offset)")
	cmd.Flags().StringVar(&opts.RegistrationDeadline, "deadline", "", "registration deadline (YYYY-MM-DDTHH:MM)")
	cmd.Flags().StringVar(&opts.SubmitDeadline, "submit-deadline", "", "proof submission deadline (optional)")
	cmd.Flags().IntVar(&opts.Capacity, "capacity", 1, "number of slots")
	cmd.Flags().StringVar(&opts.DistributionMode, "mode", "equal", "reward distribution (equal or weighted)")
	cmd.Flags().StringVar(&opts.TotalReward, "reward", "", "total reward amount")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "reward currency")
	cmd.Flags().StringVar(&opts.SubmissionInstructions, "instructions", "", "submission instructions")
	cmd.Flags().StringArrayVar(&assignees, "assignee", []string{}, "restrict claiming to actor id (repeatable)")
	cmd.Flags().StringArrayVar(&weights, "weight", []string{}, "slot weight as index=value, e.g. 1=2.5 (repeatable, weighted mode)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("opens")
	_ = cmd.MarkFlagRequired("deadline")
	_ = cmd.MarkFlagRequired("reward")
	_ = cmd.MarkFlagRequired("currency")
	return cmd
}

func parseWeights(in []string) ([]reward.Weight, error) {
	var out []reward.Weight
	for _, raw := range in {
		idxStr, valStr, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --weight %q: expected index=value", raw)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
		if err != nil {
			return nil, fmt.Errorf("invalid --weight %q: %v", raw, err)
		}
		val, err := strconv.ParseFloat(strings.TrimSpace(valStr), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --weight %q: %v", raw, err)
		}
		out = append(out, reward.Weight{ParticipantIndex: idx, Value: val})
	}
	return out, nil
}

func groupListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List task groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				groups, err := a.Engine.ListGroups(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(groups)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Capacity", "Mode", "Reward", "Currency", "Deadline"})
				for _, g := range groups {
					tw.AppendRow(table.Row{g.ID, g.Title, g.Capacity, g.DistributionMode, g.TotalReward.String(), g.Currency, g.RegistrationDeadline})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func groupShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <group-id>",
		Short: "Show a task group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				g, err := a.Engine.GetGroup(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	return cmd
}

func groupSlotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots <group-id>",
		Short: "List a group's slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("group id required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				slots, err := a.Engine.ListGroupSlots(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(slots)
				}
				renderSlots(slots)
				return nil
			})
		},
	}
	return cmd
}

func renderSlots(slots []domain.TaskSlot) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "ID", "Status", "Claimer", "Reward"})
	for _, s := range slots {
		claimer := ""
		if s.ClaimerName != nil {
			claimer = *s.ClaimerName
		} else if s.ClaimerID != nil {
			claimer = *s.ClaimerID
		}
		tw.AppendRow(table.Row{s.ParticipantIndex, s.ID, s.Status, claimer, s.Reward.String() + " " + s.Currency})
	}
	tw.Render()
}

func slotCmd() *cobra.Command {
	slot := &cobra.Command{
		Use:   "slot",
		Short: "Work with slots",
		Long:  "Slots move unclaimed -> claimed -> submitted -> completed. Rejection sends them to unsubmit (fix and resubmit), back to unclaimed (reclaim), or to rejected (final).",
	}
	slot.AddCommand(slotClaimCmd())
	slot.AddCommand(slotSubmitCmd())
	slot.AddCommand(slotApproveCmd())
	slot.AddCommand(slotRejectCmd())
	slot.AddCommand(slotAckCmd())
	slot.AddCommand(slotShowCmd())
	slot.AddCommand(slotTimelineCmd())
	return slot
}

func slotClaimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim <group-id>",
		Short: "Claim the lowest free slot in a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				s, err := a.Engine.Claim(ctx, args[0], actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Claimed slot %d (%s) for %s %s\n", s.ParticipantIndex, s.ID, s.Reward, s.Currency)
				return nil
			})
		},
	}
	return cmd
}

func slotSubmitCmd() *cobra.Command {
	var photos []string
	var description string
	var lat, lon float64
	cmd := &cobra.Command{
		Use:   "submit <slot-id>",
		Short: "Submit proof for a claimed slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := domain.ProofPayload{Description: description}
			for _, raw := range photos {
				url, hash, _ := strings.Cut(raw, "#")
				payload.Photos = append(payload.Photos, domain.ProofFile{URL: url, Hash: hash})
			}
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
				payload.GPS = &domain.GPSPoint{Latitude: &lat, Longitude: &lon}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				s, err := a.Engine.SubmitProof(ctx, args[0], actor(), payload)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringArrayVar(&photos, "photo", []string{}, "photo reference as url or url#sha256 (repeatable)")
	cmd.Flags().StringVar(&description, "description", "", "work description")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	return cmd
}

func slotApproveCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "approve <slot-id>",
		Short: "Approve a submitted slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				s, err := a.Engine.Approve(ctx, args[0], actor(), comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "reviewer comment")
	return cmd
}

func slotRejectCmd() *cobra.Command {
	var reason, option string
	cmd := &cobra.Command{
		Use:   "reject <slot-id>",
		Short: "Reject a submitted slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				s, err := a.Engine.Reject(ctx, args[0], actor(), reason, option)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason (required)")
	cmd.Flags().StringVar(&option, "option", "resubmit", "what happens next: resubmit, reclaim, or rejected")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func slotAckCmd() *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "ack <slot-id>",
		Short: "Mark a completed slot's reward as transferred",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				s, err := a.Engine.AcknowledgeTransfer(ctx, args[0], actor(), !clear)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the transferred marker instead of setting it")
	return cmd
}

func slotShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <slot-id>",
		Short: "Show a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				s, err := a.Engine.GetSlot(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func slotTimelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline <slot-id>",
		Short: "Show a slot's history, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				entries, err := a.Engine.SlotTimeline(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Status", "Actor", "Action", "Reason", "At"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.Seq, e.Status, deref(e.ActorName, deref(e.ActorID, "")), deref(e.Action, ""), deref(e.Reason, ""), e.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func keysCmd() *cobra.Command {
	keys := &cobra.Command{Use: "keys", Short: "Manage API keys"}
	keys.AddCommand(keysAddCmd())
	keys.AddCommand(keysListCmd())
	keys.AddCommand(keysRevokeCmd())
	return keys
}

func keysAddCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				raw := uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   viper.GetString("actor-id"),
					ActorName: viper.GetString("actor-name"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := a.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The raw key is shown exactly once; only the hash is stored.
				fmt.Printf("API key %s created for %s:\n%s\n", key.ID, key.ActorID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func keysListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				keys, err := a.Engine.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func keysRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			shutdown, err := obs.Setup(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(ctx)
			}()
			a, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("REWARDLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("REWARDLINE_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header)")
			}
			handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Rewardline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept unauthenticated X-Actor-Id headers (dev only)")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string, fallback string) string {
	if s != nil && *s != "" {
		return *s
	}
	return fallback
}
