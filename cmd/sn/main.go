package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"signalnoise/internal/app"
	"signalnoise/internal/config"
	"signalnoise/internal/db"
	"signalnoise/internal/domain"
	"signalnoise/internal/engine"
	"signalnoise/internal/migrate"
	"signalnoise/internal/notify"
	"signalnoise/internal/repo"
	"signalnoise/internal/schedule"
	"signalnoise/internal/server"
	"signalnoise/internal/sweep"
	syncpkg "signalnoise/internal/sync"
)

var rootCmd = &cobra.Command{
	Use:   "sn",
	Short: "SignalNoise CLI",
	Long: `SignalNoise tracks how much of your focus time goes to the work that matters.
- Signal tasks: the few things per day you decided matter; everything else is noise.
- Slots: planned calendar windows on a task; starting one tracks a work session.
- Smart start: starting a task resumes a recently paused slot instead of opening a new one.
- Signal ratio: tracked signal time over elapsed focus-window time, live all day.
- Focus window: your configured active hours; starting early extends it once per day.`,
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
	viper.SetEnvPrefix("SIGNALNOISE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("profile", app.DefaultProfileID, "profile id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(slotCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(todayCmd())
	rootCmd.AddCommand(weekCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			dir, err := db.EnsureWorkspace(workspace)
			if err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(viper.GetString("profile"))), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote default config to %s\n", cfgPath)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := app.ResolveSettings(ctx, r, workspace, viper.GetString("profile")); err != nil {
					return err
				}
				fmt.Printf("Workspace ready in %s\n", dir)
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage signal tasks",
		Long:  "Signal tasks are the handful of things a day that actually matter. Each carries an estimate in minutes and a set of calendar slots.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a signal task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (optional, deterministic UUID if omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Date, "date", "", "scheduled date (YYYY-MM-DD, defaults to today)")
	cmd.Flags().IntVar(&opts.EstimatedMinutes, "estimate", 0, "estimated minutes")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("estimate")
	return cmd
}

func taskListCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				now := e.Now()
				if date == "" {
					date = now.Format(time.DateOnly)
				}
				tasks, err := e.Repo.ListTasks(ctx, date)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Estimate", "Scheduled", "Actual", "Status"})
				for _, t := range tasks {
					status := "open"
					if t.Completed {
						status = "done"
					} else if t.ActiveSlot() != nil {
						status = "active"
					}
					tw.AppendRow(table.Row{
						t.ID, t.Title,
						fmt.Sprintf("%dm", t.EstimatedMinutes),
						fmt.Sprintf("%dm", t.ScheduledMinutes()),
						formatSeconds(engine.TaskLiveSeconds(t, now)),
						status,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD)")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with its slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				now := e.Now()
				fmt.Printf("%s  %s  (%s, estimate %dm, worked %s)\n",
					t.ID, t.Title, t.ScheduledDate, t.EstimatedMinutes, formatSeconds(engine.TaskLiveSeconds(t, now)))
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Slot", "Planned", "Status", "Worked"})
				for _, s := range t.Slots {
					tw.AppendRow(table.Row{
						s.ID,
						fmt.Sprintf("%s - %s", s.PlannedStart.Local().Format("15:04"), s.PlannedEnd.Local().Format("15:04")),
						s.Status(now),
						formatSeconds(int64(engine.LiveElapsed(t, s, now) / time.Second)),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CompleteTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTask(ctx, args[0])
			})
		},
	}
	return cmd
}

func slotCmd() *cobra.Command {
	slot := &cobra.Command{
		Use:   "slot",
		Short: "Manage planned slots",
		Long:  "Slots are calendar windows reserved for a task. Discarding a slot that already recorded time keeps the time in the ledger.",
	}
	slot.AddCommand(slotAddCmd())
	slot.AddCommand(slotUpdateCmd())
	slot.AddCommand(slotDiscardCmd())
	return slot
}

func slotAddCmd() *cobra.Command {
	var taskID, start, end string
	var autoEnd bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a planned slot to a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ps, err := parseLocalTime(start, e.Now())
				if err != nil {
					return err
				}
				pe, err := parseLocalTime(end, e.Now())
				if err != nil {
					return err
				}
				s, err := e.AddSlot(ctx, taskID, ps, pe, autoEnd)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&start, "start", "", "planned start (HH:MM today, or RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "planned end (HH:MM today, or RFC3339)")
	cmd.Flags().BoolVar(&autoEnd, "auto-end", false, "stop automatically at planned end plus grace")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func slotUpdateCmd() *cobra.Command {
	var taskID, start, end string
	var autoEnd bool
	cmd := &cobra.Command{
		Use:   "update <slot-id>",
		Short: "Update a planned slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var opts engine.SlotUpdateOptions
				if cmd.Flags().Changed("start") {
					t, err := parseLocalTime(start, e.Now())
					if err != nil {
						return err
					}
					opts.PlannedStart = &t
				}
				if cmd.Flags().Changed("end") {
					t, err := parseLocalTime(end, e.Now())
					if err != nil {
						return err
					}
					opts.PlannedEnd = &t
				}
				if cmd.Flags().Changed("auto-end") {
					opts.AutoEnd = &autoEnd
				}
				s, err := e.UpdateSlot(ctx, taskID, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&start, "start", "", "planned start (HH:MM today, or RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "planned end (HH:MM today, or RFC3339)")
	cmd.Flags().BoolVar(&autoEnd, "auto-end", false, "stop automatically at planned end plus grace")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func slotDiscardCmd() *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "discard <slot-id>",
		Short: "Discard a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DiscardSlot(ctx, taskID, args[0])
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func startCmd() *cobra.Command {
	var slotID string
	var extend bool
	cmd := &cobra.Command{
		Use:   "start <task-id>",
		Short: "Start or resume work on a task",
		Long:  "Resumes the task's most recently paused slot when the pause is within the merge threshold; otherwise activates --slot or opens an ad-hoc slot.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if extend {
					resolver := newResolver(e)
					if _, err := resolver.ExtendStart(ctx, e.Now()); err != nil && !errors.Is(err, schedule.ErrAlreadyExtended) {
						return err
					}
				}
				s, err := e.SmartStart(ctx, args[0], slotID)
				if errors.Is(err, engine.ErrAlreadyActive) {
					fmt.Printf("already running since %s\n", s.ActualStart.Local().Format("15:04:05"))
					return nil
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&slotID, "slot", "", "preferred slot id")
	cmd.Flags().BoolVar(&extend, "extend-window", true, "extend today's focus window when starting early")
	return cmd
}

func stopCmd() *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "stop <slot-id>",
		Short: "Stop the running session on a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.StopSlot(ctx, taskID, args[0])
				if errors.Is(err, engine.ErrAlreadyStopped) {
					fmt.Println("slot is not running")
					return nil
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func todayCmd() *cobra.Command {
	var projected bool
	cmd := &cobra.Command{
		Use:   "today",
		Short: "Show today's signal ratio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				resolver := newResolver(e)
				if projected {
					st, err := e.Projected(ctx, resolver, e.Now())
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(st)
					}
					fmt.Printf("Projected: %.0f%% (%.0fm planned of %.0fm window)\n", st.Ratio*100, st.PlannedMinutes, st.WindowMinutes)
					return nil
				}
				st, err := e.TodayStats(ctx, resolver)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				marker := ""
				if st.Golden {
					marker = "  *golden*"
				}
				fmt.Printf("Signal ratio: %.0f%%%s\n", st.Ratio*100, marker)
				fmt.Printf("Window: %s - %s", st.WindowStart.Local().Format("15:04"), st.WindowEnd.Local().Format("15:04"))
				if st.WindowExtended {
					fmt.Print(" (extended)")
				}
				fmt.Printf("\nSignal time: %.0fm of %.0fm elapsed\n", st.SignalMinutes, st.ElapsedMinutes)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&projected, "projected", false, "show the projected ratio instead of live")
	return cmd
}

func weekCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "week",
		Short: "Show the weekly ratio rollup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				target := e.Now()
				if date != "" {
					var err error
					if target, err = time.ParseInLocation(time.DateOnly, date, target.Location()); err != nil {
						return fmt.Errorf("invalid date %q", date)
					}
				}
				w, err := e.WeekStats(ctx, newResolver(e), target)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(w)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Signal", "Elapsed", "Ratio", "Golden"})
				for _, d := range w.Days {
					golden := ""
					if d.Golden {
						golden = "*"
					}
					tw.AppendRow(table.Row{d.Date, fmt.Sprintf("%.0fm", d.SignalMinutes), fmt.Sprintf("%.0fm", d.ElapsedMinutes), fmt.Sprintf("%.0f%%", d.Ratio*100), golden})
				}
				tw.Render()
				fmt.Printf("Week of %s: %.0f%%, %d golden days", w.Anchor, w.Ratio*100, w.GoldenDays)
				if w.Achieved {
					fmt.Print("  achieved!")
				}
				fmt.Println()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "any date in the target week (YYYY-MM-DD)")
	return cmd
}

func scheduleCmd() *cobra.Command {
	sched := &cobra.Command{
		Use:   "schedule",
		Short: "Manage focus-hours schedule",
	}
	sched.AddCommand(scheduleShowCmd())
	sched.AddCommand(scheduleSetCmd())
	sched.AddCommand(scheduleExtendCmd())
	return sched
}

func scheduleShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the resolved focus window per weekday",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				resolver := newResolver(e)
				now := e.Now()
				anchor := schedule.WeekAnchor(now)
				type row struct {
					Weekday  string  `json:"weekday"`
					Start    string  `json:"start"`
					End      string  `json:"end"`
					Active   bool    `json:"active"`
					Extended bool    `json:"extended"`
					Minutes  float64 `json:"minutes"`
				}
				var rows []row
				for i := 0; i < 7; i++ {
					day := anchor.AddDate(0, 0, i)
					w, err := resolver.WindowFor(ctx, day)
					if err != nil {
						return err
					}
					rows = append(rows, row{
						Weekday:  day.Weekday().String(),
						Start:    w.Start.Format("15:04"),
						End:      w.End.Format("15:04"),
						Active:   w.Active,
						Extended: w.Extended,
						Minutes:  w.Minutes(),
					})
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Day", "Start", "End", "Active", "Extended"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.Weekday, r.Start, r.End, r.Active, r.Extended})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func scheduleSetCmd() *cobra.Command {
	var day, start, end string
	var active bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set one weekday's focus window",
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := parseWeekday(day)
			if err != nil {
				return err
			}
			sh, sm, err := config.ParseClock(start)
			if err != nil {
				return err
			}
			eh, em, err := config.ParseClock(end)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d := domain.DaySchedule{
					Weekday:     wd,
					StartHour:   sh,
					StartMinute: sm,
					EndHour:     eh,
					EndMinute:   em,
					Active:      active,
				}
				if err := newResolver(e).SetDay(ctx, d); err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "weekday (monday..sunday)")
	cmd.Flags().StringVar(&start, "start", "09:00", "window start (HH:MM)")
	cmd.Flags().StringVar(&end, "end", "17:00", "window end (HH:MM)")
	cmd.Flags().BoolVar(&active, "active", true, "count this day toward the ratio")
	_ = cmd.MarkFlagRequired("day")
	return cmd
}

func scheduleExtendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extend-start",
		Short: "Extend today's window to now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := newResolver(e).ExtendStart(ctx, e.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(w)
				}
				if w.Extended {
					fmt.Printf("Window extended: %s - %s\n", w.Start.Local().Format("15:04"), w.End.Local().Format("15:04"))
				} else {
					fmt.Println("Window unchanged (not an early start)")
				}
				return nil
			})
		},
	}
	return cmd
}

func settingsCmd() *cobra.Command {
	settings := &cobra.Command{
		Use:   "settings",
		Short: "Manage profile settings",
	}
	settings.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show settings stored in the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})
	settings.AddCommand(settingsImportCmd())
	return settings
}

func settingsImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import settings from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := app.SaveSettings(ctx, r, viper.GetString("profile"), cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	})
	key.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (plaintext printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.New().String()
				key := domain.APIKey{
					ID:      uuid.New().String(),
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "name": key.Name, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Inspect the event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Auto-end overdue sessions once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stopped, err := e.AutoEndOverdue(ctx)
				if err != nil {
					return err
				}
				if len(stopped) == 0 {
					fmt.Println("nothing to sweep")
					return nil
				}
				return printJSONOrTable(stopped)
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var withSweeper bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveSettings(cmd.Context(), r, workspace, viper.GetString("profile"))
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			e := engine.New(conn, cfg)
			reminders := notify.NewRegistry(notify.LogNotifier{Logger: logger})
			defer reminders.Stop()
			e.Reminders = reminders
			resolver := schedule.NewResolver(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("SIGNALNOISE_JWT_SECRET")}
			handler, err := server.New(server.Config{Engine: e, Resolver: resolver, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			if withSweeper {
				sw := sweep.New(e, logger)
				if err := sw.Start(); err != nil {
					return err
				}
				defer sw.Stop()
			}
			if d := syncpkg.Start(r, cfg, logger); d != nil {
				defer d.Stop()
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving SignalNoise API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&withSweeper, "sweeper", true, "run the auto-end sweeper")
	return cmd
}

// --- helpers ---

func newResolver(e engine.Engine) schedule.Resolver {
	return schedule.Resolver{DB: e.DB, Repo: e.Repo, Events: e.Events, Config: e.Config, Now: e.Now}
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		cfg, err := app.ResolveSettings(ctx, r, viper.GetString("workspace"), viper.GetString("profile"))
		if err != nil {
			return err
		}
		return fn(ctx, engine.New(r.DB, cfg))
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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

func formatSeconds(total int64) string {
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// parseLocalTime accepts "HH:MM" (today, local) or a full RFC3339 timestamp.
func parseLocalTime(s string, now time.Time) (time.Time, error) {
	if h, m, err := config.ParseClock(s); err == nil {
		return time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location()), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (want HH:MM or RFC3339)", s)
	}
	return t.In(now.Location()), nil
}

func parseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sunday", "sun":
		return time.Sunday, nil
	case "monday", "mon":
		return time.Monday, nil
	case "tuesday", "tue":
		return time.Tuesday, nil
	case "wednesday", "wed":
		return time.Wednesday, nil
	case "thursday", "thu":
		return time.Thursday, nil
	case "friday", "fri":
		return time.Friday, nil
	case "saturday", "sat":
		return time.Saturday, nil
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}
