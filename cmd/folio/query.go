package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nainya/folio/pkg/model"
	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/resource"
)

type resourceView struct {
	ID         string                   `yaml:"id"`
	Model      string                   `yaml:"model"`
	CreatedAt  string                   `yaml:"created_at"`
	UpdatedAt  string                   `yaml:"updated_at"`
	Attributes map[string][]interface{} `yaml:"attributes,omitempty"`
}

func viewOf(r *resource.Resource) resourceView {
	v := resourceView{
		ID:        r.ID.String(),
		Model:     r.InternalModel,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
		UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
	}
	for _, name := range r.Names() {
		if v.Attributes == nil {
			v.Attributes = make(map[string][]interface{})
		}
		for _, val := range r.Get(name) {
			v.Attributes[name] = append(v.Attributes[name], displayValue(val))
		}
	}
	return v
}

func displayValue(v resource.Value) interface{} {
	switch t := v.(type) {
	case resource.Literal:
		if t.IsTagged() {
			return map[string]string{"value": t.Text, "language": t.Language}
		}
		return t.Text
	case resource.ID:
		return map[string]string{"id": t.String()}
	case *resource.Structure:
		return t
	}
	return nil
}

func (c *cli) queryService() (persistence.QueryService, error) {
	adapter, err := c.app.MetadataAdapter()
	if err != nil {
		return nil, err
	}
	return adapter.QueryService(), nil
}

func (c *cli) find(cmd *cobra.Command, id string) (persistence.QueryService, *resource.Resource, error) {
	qs, err := c.queryService()
	if err != nil {
		return nil, nil, err
	}
	r, err := qs.FindByID(cmd.Context(), resource.ID(id))
	if err != nil {
		return nil, nil, err
	}
	return qs, r, nil
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one resource as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, r, err := c.find(cmd, args[0])
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(viewOf(r)); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func printTable(w io.Writer, rs []*resource.Resource) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range rs {
		title := r.Strings(model.Title)
		if len(title) == 0 {
			title = r.Strings(model.Label)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.InternalModel, strings.Join(title, "; "))
	}
	return tw.Flush()
}

func (c *cli) membersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "members <id>",
		Short: "List the ordered members of a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qs, r, err := c.find(cmd, args[0])
			if err != nil {
				return err
			}
			members, err := qs.FindMembers(cmd.Context(), r)
			if err != nil {
				return err
			}
			return printTable(cmd.OutOrStdout(), members)
		},
	}
}

func (c *cli) parentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parents <id>",
		Short: "List the resources that have a resource as a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qs, r, err := c.find(cmd, args[0])
			if err != nil {
				return err
			}
			parents, err := qs.FindParents(cmd.Context(), r)
			if err != nil {
				return err
			}
			return printTable(cmd.OutOrStdout(), parents)
		},
	}
}
