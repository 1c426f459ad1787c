package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gitmirror/gitmirror/internal/storage"
	"github.com/gitmirror/gitmirror/internal/storage/sqlite"
	"github.com/gitmirror/gitmirror/internal/types"
)

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Manage repository mappings",
	Long:  `Create, list, delete, and bulk-import the Gitee/GitHub repository pairs the mirror operates on.`,
}

var mappingAddCmd = &cobra.Command{
	Use:   "add <gitee-owner/repo> <github-owner/repo>",
	Short: "Add a repository mapping",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		giteeOwner, giteeRepo, err := parseRepoPath(args[0])
		if err != nil {
			return err
		}
		githubOwner, githubRepo, err := parseRepoPath(args[1])
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		id, err := store.CreateRepositoryMapping(context.Background(), &types.RepositoryMapping{
			GiteeOwner:  giteeOwner,
			GiteeRepo:   giteeRepo,
			GitHubOwner: githubOwner,
			GitHubRepo:  githubRepo,
		})
		if err != nil {
			if errors.Is(err, storage.ErrMappingExists) {
				return fmt.Errorf("a mapping for %s or %s already exists", args[0], args[1])
			}
			return fmt.Errorf("failed to create mapping: %w", err)
		}

		if jsonOutput {
			outputJSON(map[string]int64{"id": id})
		} else {
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Created mapping #%d: %s ↔ %s\n", green("✓"), id, args[0], args[1])
		}
		return nil
	},
}

var mappingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List repository mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		mappings, err := store.ListRepositoryMappings(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list mappings: %w", err)
		}

		if jsonOutput {
			if mappings == nil {
				mappings = []*types.RepositoryMapping{}
			}
			outputJSON(mappings)
			return nil
		}

		if len(mappings) == 0 {
			fmt.Println("No repository mappings configured.")
			return nil
		}
		cyan := color.New(color.FgCyan).SprintFunc()
		for _, m := range mappings {
			fmt.Printf("%s  %s/%s ↔ %s/%s\n",
				cyan(fmt.Sprintf("#%d", m.ID)),
				m.GiteeOwner, m.GiteeRepo, m.GitHubOwner, m.GitHubRepo)
		}
		return nil
	},
}

var mappingDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a repository mapping",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid mapping id %q", args[0])
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		switch err := store.DeleteRepositoryMapping(context.Background(), id); {
		case err == nil:
			if jsonOutput {
				outputJSON(map[string]bool{"deleted": true})
			} else {
				green := color.New(color.FgGreen).SprintFunc()
				fmt.Printf("%s Deleted mapping #%d\n", green("✓"), id)
			}
			return nil
		case errors.Is(err, storage.ErrMappingInUse):
			return fmt.Errorf("mapping #%d has mirrored issues; deleting it would orphan their cross-references", id)
		case errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("mapping #%d not found", id)
		default:
			return fmt.Errorf("failed to delete mapping: %w", err)
		}
	},
}

// mappingSeed is one entry in a mapping import file.
type mappingSeed struct {
	Gitee  string `yaml:"gitee"`
	GitHub string `yaml:"github"`
}

var mappingImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Bulk-import repository mappings from a YAML file",
	Long: `Import repository mappings from a YAML list:

  - gitee: owner/repo
    github: owner/repo

Entries that already exist are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		var seeds []mappingSeed
		if err := yaml.Unmarshal(data, &seeds); err != nil {
			return fmt.Errorf("failed to parse %s: %w", args[0], err)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		yellow := color.New(color.FgYellow).SprintFunc()
		created, skipped := 0, 0
		for i, seed := range seeds {
			giteeOwner, giteeRepo, err := parseRepoPath(seed.Gitee)
			if err != nil {
				return fmt.Errorf("entry %d: %w", i+1, err)
			}
			githubOwner, githubRepo, err := parseRepoPath(seed.GitHub)
			if err != nil {
				return fmt.Errorf("entry %d: %w", i+1, err)
			}

			_, err = store.CreateRepositoryMapping(context.Background(), &types.RepositoryMapping{
				GiteeOwner:  giteeOwner,
				GiteeRepo:   giteeRepo,
				GitHubOwner: githubOwner,
				GitHubRepo:  githubRepo,
			})
			if errors.Is(err, storage.ErrMappingExists) {
				if !jsonOutput {
					fmt.Printf("%s Skipped %s ↔ %s: already mapped\n", yellow("⚠"), seed.Gitee, seed.GitHub)
				}
				skipped++
				continue
			}
			if err != nil {
				return fmt.Errorf("entry %d (%s ↔ %s): %w", i+1, seed.Gitee, seed.GitHub, err)
			}
			created++
		}

		if jsonOutput {
			outputJSON(map[string]int{"created": created, "skipped": skipped})
		} else {
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Imported %d mapping(s), %d skipped\n", green("✓"), created, skipped)
		}
		return nil
	},
}

func openStore() (*sqlite.Store, error) {
	path := dbPath
	if path == "" {
		path = "gitmirror.db"
	}
	store, err := sqlite.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping database: %w", err)
	}
	return store, nil
}

func parseRepoPath(path string) (owner, repo string, err error) {
	parts := strings.SplitN(strings.TrimSpace(path), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository path %q: expected owner/repo", path)
	}
	return parts[0], parts[1], nil
}

func init() {
	mappingCmd.AddCommand(mappingAddCmd)
	mappingCmd.AddCommand(mappingListCmd)
	mappingCmd.AddCommand(mappingDeleteCmd)
	mappingCmd.AddCommand(mappingImportCmd)
	rootCmd.AddCommand(mappingCmd)
}
