package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/knowyouranimal/kya/internal/kya/config"
	"github.com/knowyouranimal/kya/internal/vets"
	"github.com/spf13/cobra"
)

var (
	vetsLat    float64
	vetsLon    float64
	vetsRadius int
	vetsLimit  int
	vetsLinks  bool
)

// vetsCmd represents the vets command
var vetsCmd = &cobra.Command{
	Use:   "vets",
	Short: "Find veterinary clinics near a location",
	Long: `Find veterinary clinics near a location using OpenStreetMap data from
the Overpass API at overpass_url. Clinics are listed nearest first.

Examples:
  kya vets --lat 28.6139 --lon 77.2090
  kya vets --lat 19.076 --lon 72.8777 --radius 5000 --links`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
			return errors.New("both --lat and --lon are required")
		}
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		radius := cfg.VetsRadius
		if cmd.Flags().Changed("radius") {
			radius = vetsRadius
		}

		client := vets.New(cfg.OverpassURL, vets.WithLogger(logger))
		if verbose {
			fmt.Fprintf(os.Stderr, "Searching within %d m of %v,%v\n", radius, vetsLat, vetsLon)
		}
		found, err := client.Nearby(cmd.Context(), vetsLat, vetsLon, radius)
		if err != nil {
			return fmt.Errorf("finding vets: %w", err)
		}
		if len(found) == 0 {
			fmt.Printf("No veterinary clinics found within %.1f km.\n", float64(radius)/1000)
			return nil
		}
		if vetsLimit > 0 && len(found) > vetsLimit {
			found = found[:vetsLimit]
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DISTANCE\tNAME\tPHONE\tADDRESS")
		fmt.Fprintln(w, "--------\t----\t-----\t-------")
		for _, v := range found {
			fmt.Fprintf(w, "%.1f km\t%s\t%s\t%s\n", v.DistanceKm, v.Name, orDash(v.Phone), orDash(v.Address))
			if vetsLinks {
				fmt.Fprintf(w, "\t%s\t\t\n", vets.DirectionsURL(vetsLat, vetsLon, v))
			}
		}
		return w.Flush()
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.AddCommand(vetsCmd)

	vetsCmd.Flags().Float64Var(&vetsLat, "lat", 0, "Latitude of the search point")
	vetsCmd.Flags().Float64Var(&vetsLon, "lon", 0, "Longitude of the search point")
	vetsCmd.Flags().IntVar(&vetsRadius, "radius", vets.DefaultRadius, "Search radius in meters (default from vets_radius)")
	vetsCmd.Flags().IntVarP(&vetsLimit, "limit", "l", 20, "Show at most this many clinics (0 for all)")
	vetsCmd.Flags().BoolVar(&vetsLinks, "links", false, "Show a directions link for each clinic")
}
