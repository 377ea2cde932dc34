package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danjuanyang/psm-merge/internal/domain"
	"github.com/danjuanyang/psm-merge/internal/layout"
	"github.com/danjuanyang/psm-merge/internal/storage"
)

// newCatalogCmd creates the catalog subcommand group.
func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage projects and their source files",
	}

	cmd.AddCommand(newCatalogAddProjectCmd())
	cmd.AddCommand(newCatalogAddFilesCmd())
	cmd.AddCommand(newCatalogListCmd())

	return cmd
}

func newCatalogAddProjectCmd() *cobra.Command {
	var (
		name    string
		owner   int64
		members []int64
	)

	cmd := &cobra.Command{
		Use:   "add-project",
		Short: "Register a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ui := NewUI(outputJSON, noColor)

			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}

			db, err := storage.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			catalog := storage.NewCatalogRepository(db)
			project, err := catalog.CreateProject(ctx, name, owner)
			if err != nil {
				return err
			}
			for _, m := range members {
				if err := catalog.AddMember(ctx, project.ID, m); err != nil {
					return err
				}
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(project)
			}
			ui.Success("Created project %d %q (owner %d)", project.ID, project.Name, project.OwnerID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().Int64Var(&owner, "owner", 1, "owner user ID")
	cmd.Flags().Int64SliceVar(&members, "member", nil, "additional member user IDs")

	return cmd
}

func newCatalogAddFilesCmd() *cobra.Command {
	var projectID int64

	cmd := &cobra.Command{
		Use:   "add-files <path>...",
		Short: "Register source files for a project",
		Long: `Register files as project sources. PDFs are opened and page-counted first;
unreadable PDFs are reported and skipped. Other file types are registered but
are never merged.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ui := NewUI(outputJSON, noColor)

			db, err := storage.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			catalog := storage.NewCatalogRepository(db)
			if _, err := catalog.GetProject(ctx, projectID); err != nil {
				return fmt.Errorf("project %d: %w", projectID, err)
			}

			counter := layout.PDFCPUCounter{}
			bar := ui.FileBar(len(args), "Registering")

			var (
				added   []domain.SourceDocument
				skipped []string
			)
			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")

				if fileType == "pdf" {
					if _, err := counter.PageCount(path); err != nil {
						logger.Warn().Err(err).Str("file", path).Msg("Skipping unreadable PDF")
						skipped = append(skipped, path)
						_ = bar.Add(1)
						continue
					}
				}

				doc := &domain.SourceDocument{
					ProjectID: projectID,
					Name:      filepath.Base(path),
					Path:      path,
					FileType:  fileType,
				}
				if err := catalog.AddDocument(ctx, doc); err != nil {
					return err
				}
				added = append(added, *doc)
				_ = bar.Add(1)
			}
			_ = bar.Finish()

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"added":   added,
					"skipped": skipped,
				})
			}
			for _, p := range skipped {
				ui.Warning("skipped unreadable PDF %s", p)
			}
			ui.Success("Registered %d files for project %d", len(added), projectID)
			return nil
		},
	}

	cmd.Flags().Int64VarP(&projectID, "project", "p", 0, "project ID")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func newCatalogListCmd() *cobra.Command {
	var projectID int64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the source files of a project in merge order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ui := NewUI(outputJSON, noColor)

			db, err := storage.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			docs, err := storage.NewCatalogRepository(db).ListProjectDocuments(ctx, projectID)
			if err != nil {
				return err
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(docs)
			}

			rows := make([][]string, 0, len(docs))
			for _, d := range docs {
				rows = append(rows, []string{
					strconv.FormatInt(d.ID, 10),
					d.Name,
					d.FileType,
					d.UploadedAt.Format("2006-01-02 15:04"),
				})
			}
			ui.Table([]string{"ID", "NAME", "TYPE", "UPLOADED"}, rows)
			return nil
		},
	}

	cmd.Flags().Int64VarP(&projectID, "project", "p", 0, "project ID")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}
