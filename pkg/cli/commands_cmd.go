package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"duckflow/pkg/cli/client"
)

// Command scopes. Local commands work on files and the user config without
// a server; remote commands call the duckflow API.
const (
	ScopeLocal  = "local"
	ScopeRemote = "remote"

	scopeAnnotation = "duckflow/scope"
)

// CommandEntry describes one leaf command for `duckflow commands`.
type CommandEntry struct {
	Path    string      `json:"path"`
	Group   string      `json:"group"`
	Scope   string      `json:"scope"`
	Short   string      `json:"short"`
	Long    string      `json:"long,omitempty"`
	Example string      `json:"example,omitempty"`
	Args    string      `json:"args,omitempty"`
	Flags   []FlagEntry `json:"flags,omitempty"`
}

// FlagEntry describes one flag of a command.
type FlagEntry struct {
	Name     string `json:"name"`
	Short    string `json:"shorthand,omitempty"`
	Type     string `json:"type"`
	Default  string `json:"default,omitempty"`
	Usage    string `json:"usage,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// addScoped registers cmds under parent and tags them with scope. Their
// subcommands inherit it.
func addScoped(parent *cobra.Command, scope string, cmds ...*cobra.Command) {
	for _, cmd := range cmds {
		if cmd.Annotations == nil {
			cmd.Annotations = map[string]string{}
		}
		cmd.Annotations[scopeAnnotation] = scope
		parent.AddCommand(cmd)
	}
}

// commandScope returns the scope of the nearest tagged ancestor.
func commandScope(cmd *cobra.Command) string {
	for c := cmd; c != nil; c = c.Parent() {
		if s, ok := c.Annotations[scopeAnnotation]; ok {
			return s
		}
	}
	return ScopeLocal
}

// commandQuery selects entries. Every whitespace separated word of Text must
// appear in the path, short or long description.
type commandQuery struct {
	Text  string
	Group string
	Scope string
}

func (q commandQuery) matches(e CommandEntry) bool {
	if q.Group != "" && e.Group != q.Group {
		return false
	}
	if q.Scope != "" && e.Scope != q.Scope {
		return false
	}
	haystack := strings.ToLower(e.Path + " " + e.Short + " " + e.Long)
	for _, word := range strings.Fields(strings.ToLower(q.Text)) {
		if !strings.Contains(haystack, word) {
			return false
		}
	}
	return true
}

func newCommandsCmd() *cobra.Command {
	var q commandQuery

	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List all available CLI commands with their flags and descriptions",
		Long: `Lists every leaf command with its path, group, scope, flags and examples.
Local commands need no server; remote commands call the duckflow API.
Works offline.`,
		Example: `  # Everything
  duckflow commands

  # Commands that do not need a server
  duckflow commands --scope local

  # Schedule related commands as JSON
  duckflow commands --filter schedule --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch q.Scope {
			case "", ScopeLocal, ScopeRemote:
			default:
				return fmt.Errorf("invalid --scope %q: must be %s or %s", q.Scope, ScopeLocal, ScopeRemote)
			}

			entries := make([]CommandEntry, 0)
			for _, e := range walkCommands(cmd.Root(), "") {
				if q.matches(e) {
					entries = append(entries, e)
				}
			}
			sort.SliceStable(entries, func(i, j int) bool {
				if entries[i].Scope != entries[j].Scope {
					return entries[i].Scope == ScopeLocal
				}
				return entries[i].Path < entries[j].Path
			})

			if getOutputFormat(cmd) == "json" {
				return client.PrintJSON(os.Stdout, entries)
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.Scope, e.Path, e.Args, e.Short})
			}
			client.PrintTable(os.Stdout, []string{"scope", "path", "args", "description"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&q.Text, "filter", "", "Words that must all appear in the command path or description")
	cmd.Flags().StringVar(&q.Group, "group", "", "Only commands of this top-level group (e.g. pipelines, executions)")
	cmd.Flags().StringVar(&q.Scope, "scope", "", "Only local or remote commands")

	return cmd
}

// walkCommands collects the leaf commands below cmd.
func walkCommands(cmd *cobra.Command, parentPath string) []CommandEntry {
	var entries []CommandEntry
	for _, child := range cmd.Commands() {
		if child.Hidden || child.Name() == "help" || child.Name() == "completion" {
			continue
		}
		path := strings.TrimSpace(parentPath + " " + child.Name())
		if child.HasSubCommands() {
			entries = append(entries, walkCommands(child, path)...)
			continue
		}

		group, _, _ := strings.Cut(path, " ")
		_, args, _ := strings.Cut(child.Use, " ")
		entries = append(entries, CommandEntry{
			Path:    path,
			Group:   group,
			Scope:   commandScope(child),
			Short:   child.Short,
			Long:    child.Long,
			Example: child.Example,
			Args:    strings.TrimSpace(args),
			Flags:   collectFlags(child),
		})
	}
	return entries
}

func collectFlags(cmd *cobra.Command) []FlagEntry {
	var flags []FlagEntry
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden || f.Name == "help" {
			return
		}
		required := false
		if ann := f.Annotations[cobra.BashCompOneRequiredFlag]; len(ann) > 0 && ann[0] == "true" {
			required = true
		}
		flags = append(flags, FlagEntry{
			Name:     f.Name,
			Short:    f.Shorthand,
			Type:     f.Value.Type(),
			Default:  f.DefValue,
			Usage:    f.Usage,
			Required: required,
		})
	})
	return flags
}
