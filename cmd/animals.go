package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/knowyouranimal/kya/internal/api"
	"github.com/knowyouranimal/kya/internal/catalog"
	"github.com/knowyouranimal/kya/internal/kya/config"
	"github.com/spf13/cobra"
)

var (
	lang string

	animalSlug        string
	animalName        string
	animalNameHi      string
	animalImage       string
	animalDescription string

	diseaseName       string
	diseaseNameHi     string
	diseaseSymptoms   []string
	diseaseCauses     string
	diseaseTreatment  string
	diseasePrevention []string
)

// animalsCmd represents the animals command
var animalsCmd = &cobra.Command{
	Use:   "animals",
	Short: "Browse the animal and disease catalog",
	Long: `Browse the animal and disease catalog served by the Know Your Animal backend
at api_base_url.

Listing and showing animals is public. Adding, updating and deleting entries
needs an admin session: log in first with 'kya login --admin'.`,
}

var animalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all animals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(cmd, func(ctx context.Context, c *catalog.Client, cfg *config.Config) error {
			animals, err := c.List(ctx)
			if err != nil {
				return fmt.Errorf("listing animals: %w", err)
			}
			if len(animals) == 0 {
				fmt.Println("No animals found.")
				return nil
			}

			language := displayLanguage(cmd, cfg)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SLUG\tNAME\tDESCRIPTION")
			fmt.Fprintln(w, "----\t----\t-----------")
			for _, a := range animals {
				fmt.Fprintf(w, "%s\t%s\t%s\n", a.Slug, a.DisplayName(language), truncate(a.Description, 60))
			}
			w.Flush()

			fmt.Println("\nUse 'kya animals show <slug>' to see common diseases.")
			return nil
		})
	},
}

var animalsShowCmd = &cobra.Command{
	Use:   "show <slug>",
	Short: "Show an animal and its common diseases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(cmd, func(ctx context.Context, c *catalog.Client, cfg *config.Config) error {
			a, err := c.Get(ctx, args[0])
			if err != nil {
				if api.IsStatus(err, http.StatusNotFound) {
					return fmt.Errorf("animal %q not found\n\nList animals with: kya animals list", args[0])
				}
				return fmt.Errorf("getting animal: %w", err)
			}

			text := animalMarkdown(a, displayLanguage(cmd, cfg))
			useRender := render
			if !cmd.Flags().Changed("render") {
				useRender = stdoutIsTerminal()
			}
			if !useRender {
				fmt.Print(text)
				return nil
			}
			r, err := newRenderer()
			if err != nil {
				return fmt.Errorf("creating markdown renderer: %w", err)
			}
			fmt.Print(renderMarkdown(r, text))
			return nil
		})
	},
}

var animalsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an animal (admin)",
	Long: `Add an animal to the catalog. Requires an admin session.

Example:
  kya animals add --slug cow --name Cow --name-hi "गाय" --description "Dairy cattle"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(cmd, func(ctx context.Context, c *catalog.Client, cfg *config.Config) error {
			a, err := c.Create(ctx, catalog.Animal{
				Slug:        animalSlug,
				Name:        animalName,
				NameHi:      animalNameHi,
				Image:       animalImage,
				Description: animalDescription,
			})
			if err != nil {
				return adminError("adding animal", err)
			}
			fmt.Printf("Animal %s (%s) added.\n", a.Slug, a.Name)
			return nil
		})
	},
}

var animalsUpdateCmd = &cobra.Command{
	Use:   "update <slug>",
	Short: "Update an animal (admin)",
	Long: `Update an animal. Only the fields given as flags are changed.
Requires an admin session.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var u catalog.AnimalUpdate
		flags := cmd.Flags()
		if flags.Changed("name") {
			u.Name = &animalName
		}
		if flags.Changed("name-hi") {
			u.NameHi = &animalNameHi
		}
		if flags.Changed("image") {
			u.Image = &animalImage
		}
		if flags.Changed("description") {
			u.Description = &animalDescription
		}
		if u == (catalog.AnimalUpdate{}) {
			return errors.New("nothing to update: set at least one of --name, --name-hi, --image, --description")
		}

		return withCatalog(cmd, func(ctx context.Context, c *catalog.Client, cfg *config.Config) error {
			a, err := c.Update(ctx, args[0], u)
			if err != nil {
				return adminError("updating animal", err)
			}
			fmt.Printf("Animal %s updated.\n", a.Slug)
			return nil
		})
	},
}

var animalsDeleteCmd = &cobra.Command{
	Use:   "delete <slug>",
	Short: "Delete an animal (admin)",
	Long: `Delete an animal and all of its diseases. Requires an admin session.

Warning: This action cannot be undone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(cmd, func(ctx context.Context, c *catalog.Client, cfg *config.Config) error {
			if !confirm(fmt.Sprintf("Are you sure you want to delete animal %s?", args[0])) {
				fmt.Println("Deletion cancelled.")
				return nil
			}
			if err := c.Delete(ctx, args[0]); err != nil {
				return adminError("deleting animal", err)
			}
			fmt.Printf("Animal %s deleted successfully.\n", args[0])
			return nil
		})
	},
}

var diseaseCmd = &cobra.Command{
	Use:   "disease",
	Short: "Manage the diseases of an animal (admin)",
}

var diseaseAddCmd = &cobra.Command{
	Use:   "add <slug>",
	Short: "Add a disease to an animal (admin)",
	Long: `Add a disease to an animal. Requires an admin session.

Example:
  kya animals disease add cow --name "Foot and Mouth Disease" \
    --symptoms "Fever" --symptoms "Blisters on mouth and feet" \
    --causes "Aphthovirus" --treatment "Supportive care" \
    --prevention "Vaccination every 6 months"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(cmd, func(ctx context.Context, c *catalog.Client, cfg *config.Config) error {
			a, err := c.AddDisease(ctx, args[0], catalog.Disease{
				Name:       diseaseName,
				NameHi:     diseaseNameHi,
				Symptoms:   diseaseSymptoms,
				Causes:     diseaseCauses,
				Treatment:  diseaseTreatment,
				Prevention: diseasePrevention,
			})
			if err != nil {
				return adminError("adding disease", err)
			}
			fmt.Printf("Disease added. %s now has %d diseases.\n", a.Name, len(a.Diseases))
			return nil
		})
	},
}

var diseaseDeleteCmd = &cobra.Command{
	Use:   "delete <slug> <disease-id>",
	Short: "Delete a disease from an animal (admin)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(cmd, func(ctx context.Context, c *catalog.Client, cfg *config.Config) error {
			if !confirm(fmt.Sprintf("Are you sure you want to delete disease %s from %s?", args[1], args[0])) {
				fmt.Println("Deletion cancelled.")
				return nil
			}
			a, err := c.DeleteDisease(ctx, args[0], args[1])
			if err != nil {
				return adminError("deleting disease", err)
			}
			fmt.Printf("Disease deleted. %s now has %d diseases.\n", a.Name, len(a.Diseases))
			return nil
		})
	},
}

// animalMarkdown formats an animal and its diseases as markdown.
func animalMarkdown(a catalog.Animal, language string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", a.DisplayName(language))
	if a.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", a.Description)
	}
	if len(a.Diseases) == 0 {
		b.WriteString("No diseases recorded.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "## Common diseases (%d)\n", len(a.Diseases))
	for _, d := range a.Diseases {
		fmt.Fprintf(&b, "\n### %s\n", d.DisplayName(language))
		if d.ID != "" {
			fmt.Fprintf(&b, "\nID: `%s`\n", d.ID)
		}
		writeList(&b, "Symptoms", d.Symptoms)
		if d.Causes != "" {
			fmt.Fprintf(&b, "\n**Causes:** %s\n", d.Causes)
		}
		if d.Treatment != "" {
			fmt.Fprintf(&b, "\n**Treatment:** %s\n", d.Treatment)
		}
		writeList(&b, "Prevention", d.Prevention)
	}
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n**%s:**\n\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func truncate(s string, n int) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

// displayLanguage returns --lang when given, else the configured language.
func displayLanguage(cmd *cobra.Command, cfg *config.Config) string {
	if cmd.Flags().Changed("lang") {
		return lang
	}
	return cfg.Language
}

// adminError adds a login hint to authorization failures.
func adminError(action string, err error) error {
	if api.IsStatus(err, http.StatusUnauthorized) || api.IsStatus(err, http.StatusForbidden) {
		return fmt.Errorf("%s: %w\n\nLog in as an administrator with: kya login --admin", action, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}

// withCatalog loads the config and runs fn with a catalog client.
func withCatalog(cmd *cobra.Command, fn func(context.Context, *catalog.Client, *config.Config) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	client, _, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	return fn(cmd.Context(), catalog.New(client), cfg)
}

func init() {
	rootCmd.AddCommand(animalsCmd)
	animalsCmd.AddCommand(animalsListCmd, animalsShowCmd, animalsAddCmd, animalsUpdateCmd, animalsDeleteCmd, diseaseCmd)
	diseaseCmd.AddCommand(diseaseAddCmd, diseaseDeleteCmd)

	animalsCmd.PersistentFlags().StringVar(&lang, "lang", "en", "Display language (en or hi)")
	animalsShowCmd.Flags().BoolVarP(&render, "render", "r", false, "Render as markdown (default when stdout is a terminal)")

	for _, c := range []*cobra.Command{animalsAddCmd, animalsUpdateCmd} {
		c.Flags().StringVar(&animalName, "name", "", "Name")
		c.Flags().StringVar(&animalNameHi, "name-hi", "", "Name in Hindi")
		c.Flags().StringVar(&animalImage, "image", "", "Image URL")
		c.Flags().StringVar(&animalDescription, "description", "", "Short description")
	}
	animalsAddCmd.Flags().StringVar(&animalSlug, "slug", "", "URL slug, e.g. cow (required)")
	animalsAddCmd.MarkFlagRequired("slug")
	animalsAddCmd.MarkFlagRequired("name")

	diseaseAddCmd.Flags().StringVar(&diseaseName, "name", "", "Disease name (required)")
	diseaseAddCmd.Flags().StringVar(&diseaseNameHi, "name-hi", "", "Disease name in Hindi")
	diseaseAddCmd.Flags().StringArrayVar(&diseaseSymptoms, "symptoms", nil, "A symptom (repeatable)")
	diseaseAddCmd.Flags().StringVar(&diseaseCauses, "causes", "", "Causes")
	diseaseAddCmd.Flags().StringVar(&diseaseTreatment, "treatment", "", "Treatment")
	diseaseAddCmd.Flags().StringArrayVar(&diseasePrevention, "prevention", nil, "A prevention measure (repeatable)")
	diseaseAddCmd.MarkFlagRequired("name")

	animalsDeleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
	diseaseDeleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
}
