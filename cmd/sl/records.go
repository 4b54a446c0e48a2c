package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"siteline/internal/app"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/feed"
	"siteline/internal/repo"
)

func workCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "work", Short: "Construction works"}
	cmd.AddCommand(workCreateCmd())
	cmd.AddCommand(workListCmd())
	cmd.AddCommand(workShowCmd())
	return cmd
}

func workCreateCmd() *cobra.Command {
	var opts engine.WorkCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				w, err := rt.Engine.CreateWork(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSON(w)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "work id (generated when empty)")
	cmd.Flags().StringVar(&opts.ObjectID, "object", "", "site object id")
	cmd.Flags().StringVar(&opts.ObjectName, "object-name", "", "site object name")
	cmd.Flags().StringVar(&opts.Title, "title", "", "work title")
	cmd.Flags().StringVar(&opts.ContractorID, "contractor", "", "contractor actor id")
	cmd.Flags().StringVar(&opts.ContractorName, "contractor-name", "", "contractor name")
	cmd.Flags().StringVar(&opts.PlannedStart, "planned-start", "", "planned start date")
	cmd.Flags().StringVar(&opts.PlannedEnd, "planned-end", "", "planned end date")
	return cmd
}

func workListCmd() *cobra.Command {
	var f repo.WorkFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List works",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				works, err := rt.Engine.ListWorks(ctx, actor, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(works, func() {
					tw := newTable("ID", "Object", "Title", "Status", "Done %", "Contractor")
					for _, w := range works {
						tw.AppendRow(table.Row{w.ID, w.ObjectID, w.Title, w.Status, w.CompletionPct, w.ContractorID})
					}
					tw.Render()
				})
			})
		},
	}
	cmd.Flags().StringVar(&f.ObjectID, "object", "", "object filter")
	cmd.Flags().StringVar(&f.ContractorID, "contractor", "", "contractor filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func workShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <work-id>",
		Short: "Show a work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				w, err := rt.Engine.GetWork(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSON(w)
			})
		},
	}
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "report", Short: "Work reports"}
	var opts engine.ReportOptions
	var volume float64
	var pct int
	add := &cobra.Command{
		Use:   "add <work-id>",
		Short: "Append a work report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.WorkID = args[0]
			if cmd.Flags().Changed("volume") {
				opts.Volume = &volume
			}
			if cmd.Flags().Changed("pct") {
				opts.CompletionPct = &pct
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				r, err := rt.Engine.AddWorkReport(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSON(r)
			})
		},
	}
	add.Flags().StringVar(&opts.Description, "description", "", "what was done")
	add.Flags().Float64Var(&volume, "volume", 0, "volume of work")
	add.Flags().StringVar(&opts.Unit, "unit", "", "volume unit")
	add.Flags().StringSliceVar(&opts.Materials, "material", nil, "material used (repeatable)")
	add.Flags().StringSliceVar(&opts.Photos, "photo", nil, "photo URL (repeatable)")
	add.Flags().IntVar(&pct, "pct", 0, "completion percent 0-100")
	add.Flags().BoolVar(&opts.IsWorkStart, "start", false, "marks the start of the work")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "list <work-id>",
		Short: "List reports of a work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				if _, err := rt.Engine.GetWork(ctx, actor, args[0]); err != nil {
					return err
				}
				items, err := rt.Engine.Repo.ListWorkReports(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func() {
					tw := newTable("Created", "Author", "Description", "Volume", "Done %")
					for _, r := range items {
						vol := ""
						if r.Volume != nil {
							vol = strings.TrimSpace(fmt.Sprintf("%g %s", *r.Volume, r.Unit))
						}
						tw.AppendRow(table.Row{r.CreatedAt, r.AuthorID, r.Description, vol, deref(r.CompletionPct)})
					}
					tw.Render()
				})
			})
		},
	})
	return cmd
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "chat", Short: "Work chat"}
	cmd.AddCommand(&cobra.Command{
		Use:   "post <work-id> <message>",
		Short: "Post a chat message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				m, err := rt.Engine.PostChatMessage(ctx, actor, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list <work-id>",
		Short: "List chat messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				if _, err := rt.Engine.GetWork(ctx, actor, args[0]); err != nil {
					return err
				}
				items, err := rt.Engine.Repo.ListChatMessages(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func() {
					tw := newTable("Created", "Author", "Message")
					for _, m := range items {
						tw.AppendRow(table.Row{m.CreatedAt, m.AuthorID, m.Message})
					}
					tw.Render()
				})
			})
		},
	})
	return cmd
}

func inspectionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "inspection", Short: "Inspections and checkpoints"}
	cmd.AddCommand(inspectionCreateCmd())
	cmd.AddCommand(inspectionListCmd())
	cmd.AddCommand(inspectionShowCmd())
	cmd.AddCommand(inspectionCheckCmd())
	for _, tr := range []struct {
		use, short string
		apply      func(engine.Engine, context.Context, domain.Actor, string) (domain.Inspection, error)
	}{
		{"submit", "Submit inspection results", engine.Engine.SubmitInspection},
		{"complete", "Accept an inspection as completed", engine.Engine.CompleteInspection},
		{"rework", "Reopen a completed inspection for rework", engine.Engine.ReopenForRework},
	} {
		apply := tr.apply
		cmd.AddCommand(&cobra.Command{
			Use:   tr.use + " <inspection-id>",
			Short: tr.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
					in, err := apply(rt.Engine, ctx, actor, args[0])
					if err != nil {
						return err
					}
					return printJSON(in)
				})
			},
		})
	}
	return cmd
}

func inspectionCreateCmd() *cobra.Command {
	var opts engine.InspectionCreateOptions
	var checkpoints []string
	cmd := &cobra.Command{
		Use:   "create <work-id>",
		Short: "Schedule an inspection from a checklist or explicit checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.WorkID = args[0]
			for _, raw := range checkpoints {
				opts.Templates = append(opts.Templates, parseCheckpoint(raw))
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				in, err := rt.Engine.CreateInspection(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSON(in)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Checklist, "checklist", "", "checklist name from siteline.yml")
	cmd.Flags().StringArrayVar(&checkpoints, "checkpoint", nil, "checkpoint as title or title|standard reference (repeatable)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "inspection title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "inspection description")
	cmd.Flags().StringVar(&opts.ScheduledDate, "date", "", "scheduled date")
	cmd.Flags().StringSliceVar(&opts.Photos, "photo", nil, "photo URL (repeatable)")
	return cmd
}

func parseCheckpoint(raw string) domain.CheckpointTemplate {
	title, ref, _ := strings.Cut(raw, "|")
	return domain.CheckpointTemplate{Title: strings.TrimSpace(title), StandardReference: strings.TrimSpace(ref)}
}

func inspectionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <work-id>",
		Short: "List inspections of a work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				items, err := rt.Engine.ListInspections(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func() {
					tw := newTable("ID", "No", "Status", "Title", "Defects", "Scheduled")
					for _, in := range items {
						tw.AppendRow(table.Row{in.ID, in.Number, in.Status, in.Title, in.DefectsCount, deref(in.ScheduledDate)})
					}
					tw.Render()
				})
			})
		},
	}
}

func inspectionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <inspection-id>",
		Short: "Show an inspection with its checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				in, err := rt.Engine.GetInspection(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(in, func() {
					fmt.Printf("Inspection #%d %s (%s)\n", in.Number, in.ID, in.Status)
					tw := newTable("#", "Checkpoint", "Title", "Status", "Severity")
					for _, cp := range in.Checkpoints {
						sev := ""
						if cp.Draft != nil {
							sev = string(cp.Draft.Severity)
						}
						tw.AppendRow(table.Row{cp.Position, cp.ID, cp.Title, cp.Status, sev})
					}
					tw.Render()
				})
			})
		},
	}
}

func inspectionCheckCmd() *cobra.Command {
	var status string
	var draft domain.DraftDefect
	var severity, deadline string
	cmd := &cobra.Command{
		Use:   "check <inspection-id> <checkpoint-id>",
		Short: "Mark a checkpoint compliant or non-compliant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var d *domain.DraftDefect
			if domain.CheckpointStatus(status) == domain.CheckpointNonCompliant {
				draft.Severity = domain.Severity(severity)
				if deadline != "" {
					draft.Deadline = &deadline
				}
				d = &draft
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				cp, err := rt.Engine.SetCheckpointStatus(ctx, actor, args[0], args[1], domain.CheckpointStatus(status), d)
				if err != nil {
					return err
				}
				return printJSON(cp)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "not_checked, compliant or non_compliant")
	cmd.Flags().StringVar(&draft.Description, "defect", "", "defect description")
	cmd.Flags().StringVar(&draft.Location, "location", "", "defect location")
	cmd.Flags().StringVar(&draft.StandardReference, "standard", "", "violated standard")
	cmd.Flags().StringVar(&severity, "severity", "", "low, medium, high or critical")
	cmd.Flags().StringVar(&draft.ResponsibleParty, "responsible", "", "responsible party")
	cmd.Flags().StringVar(&deadline, "deadline", "", "remediation deadline")
	cmd.Flags().StringSliceVar(&draft.Photos, "photo", nil, "photo URL (repeatable)")
	return cmd
}

func defectsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "defects", Short: "Defect register"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <work-id>",
		Short: "List defects of a work with their remediation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				items, err := rt.Engine.WorkDefects(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func() {
					tw := newTable("ID", "Severity", "Description", "Deadline", "Remediation")
					for _, d := range items {
						rm := ""
						if d.Remediation != nil {
							rm = string(d.Remediation.Status)
						}
						tw.AppendRow(table.Row{d.ID, d.Severity, d.Description, deref(d.Deadline), rm})
					}
					tw.Render()
				})
			})
		},
	})
	var out string
	export := &cobra.Command{
		Use:   "export <work-id>",
		Short: "Write the defect register as xlsx",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				data, err := rt.Engine.ExportDefects(ctx, actor, args[0])
				if err != nil {
					return err
				}
				path := out
				if path == "" {
					path = "defects-" + args[0] + ".xlsx"
				}
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", path)
				return nil
			})
		},
	}
	export.Flags().StringVar(&out, "out", "", "output file")
	cmd.AddCommand(export)
	return cmd
}

func remediationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "remediation", Short: "Defect remediation"}

	var description string
	var photos []string
	submit := &cobra.Command{
		Use:   "submit <defect-id>",
		Short: "Report a defect as remediated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				rm, err := rt.Engine.SubmitRemediation(ctx, actor, args[0], description, photos)
				if err != nil {
					return err
				}
				return printJSON(rm)
			})
		},
	}
	submit.Flags().StringVar(&description, "description", "", "what was fixed")
	submit.Flags().StringSliceVar(&photos, "photo", nil, "photo URL (repeatable)")
	cmd.AddCommand(submit)

	var approve, reject bool
	var notes string
	verify := &cobra.Command{
		Use:   "verify <remediation-id>",
		Short: "Approve or reject a remediation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("exactly one of --approve or --reject required")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				rm, err := rt.Engine.VerifyRemediation(ctx, actor, args[0], approve, notes)
				if err != nil {
					return err
				}
				return printJSON(rm)
			})
		},
	}
	verify.Flags().BoolVar(&approve, "approve", false, "accept the fix")
	verify.Flags().BoolVar(&reject, "reject", false, "reject the fix")
	verify.Flags().StringVar(&notes, "notes", "", "verification notes")
	cmd.AddCommand(verify)

	var status string
	list := &cobra.Command{
		Use:   "list <work-id>",
		Short: "List remediations of a work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				items, err := rt.Engine.ListRemediations(ctx, actor, args[0], domain.RemediationStatus(status))
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func() {
					tw := newTable("ID", "Defect", "Status", "Completed", "Verified")
					for _, rm := range items {
						tw.AppendRow(table.Row{rm.ID, rm.DefectID, rm.Status, deref(rm.CompletedAt), deref(rm.VerifiedAt)})
					}
					tw.Render()
				})
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "status filter")
	cmd.AddCommand(list)
	return cmd
}

func feedCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "feed", Short: "Work timelines"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <work-id>",
		Short: "Chronological feed of a work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				if _, err := rt.Engine.GetWork(ctx, actor, args[0]); err != nil {
					return err
				}
				items, err := rt.Feed.WorkFeed(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func() { renderFeed(items) })
			})
		},
	})

	var workIDs, objects, works, contractors []string
	query := &cobra.Command{
		Use:   "query",
		Short: "Merged feed across works, filtered by tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				ids := workIDs
				if len(ids) == 0 {
					all, err := rt.Engine.ListWorks(ctx, actor, repo.WorkFilter{})
					if err != nil {
						return err
					}
					for _, w := range all {
						ids = append(ids, w.ID)
					}
				}
				events, err := rt.Feed.MultiFeed(ctx, ids)
				if err != nil {
					return err
				}
				sel := feed.NewSelection()
				for _, id := range objects {
					sel.Add(feed.FacetObject, id)
				}
				for _, id := range works {
					sel.Add(feed.FacetWork, id)
				}
				for _, id := range contractors {
					sel.Add(feed.FacetContractor, id)
				}
				items := feed.Filter(events, sel)
				facets := feed.ComputeTagFacets(events, sel)
				out := map[string]any{"items": items, "facets": facets, "total": len(items)}
				return printJSONOrTable(out, func() {
					renderFeed(items)
					tw := newTable("Facet", "ID", "Label", "Count", "Enabled", "Selected")
					for _, st := range facets {
						tw.AppendRow(table.Row{st.Tag.Facet, st.Tag.ID, st.Tag.Label, st.Count, st.Enabled, st.Selected})
					}
					tw.Render()
				})
			})
		},
	}
	query.Flags().StringSliceVar(&workIDs, "work-id", nil, "works to merge (default: all)")
	query.Flags().StringSliceVar(&objects, "object", nil, "select object tag")
	query.Flags().StringSliceVar(&works, "work", nil, "select work tag")
	query.Flags().StringSliceVar(&contractors, "contractor", nil, "select contractor tag")
	cmd.AddCommand(query)
	return cmd
}

func renderFeed(items []domain.CanonicalEvent) {
	tw := newTable("Time", "Kind", "Work", "Author", "Content")
	for _, ev := range items {
		tw.AppendRow(table.Row{ev.Timestamp, ev.Kind, ev.WorkID, ev.AuthorID, ev.Content})
	}
	tw.Render()
}

func unreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unread <work-id>",
		Short: "Unread counts since the last seen watermark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				if _, err := rt.Engine.GetWork(ctx, actor, args[0]); err != nil {
					return err
				}
				counts, err := rt.Notify.Unread(ctx, actor.ID, args[0])
				if err != nil {
					return err
				}
				return printJSON(counts)
			})
		},
	}
}

func seenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seen <work-id>",
		Short: "Move the seen watermark to now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				if _, err := rt.Engine.GetWork(ctx, actor, args[0]); err != nil {
					return err
				}
				mark, err := rt.Notify.MarkSeen(ctx, actor.ID, args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]string{"work_id": args[0], "watermark": mark.UTC().Format(time.RFC3339Nano)})
			})
		},
	}
}
