package main

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecomm-io/warehouse/internal/config"
	"github.com/ecomm-io/warehouse/internal/generator"
)

// newGenerateCmd writes sample drop files so the pipeline can be exercised
// end to end without upstream systems. No database connection needed.
func newGenerateCmd() *cobra.Command {
	var (
		outputDir    string
		days         int
		ordersPerDay int
		eventsPerDay int
		products     int
		seed         int64
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate sample drop files under the data directory",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := generator.Config{
				OutputDir:    outputDir,
				Days:         days,
				EndDate:      time.Now().UTC(),
				OrdersPerDay: ordersPerDay,
				EventsPerDay: eventsPerDay,
				ProductCount: products,
				Seed:         seed,
			}

			gen, err := generator.New(cfg, newLogger())
			if err != nil {
				return err
			}

			return gen.Run()
		},
	}

	defaults := generator.DefaultConfig("")

	cmd.Flags().StringVar(&outputDir, "out",
		filepath.Join(config.GetEnvStr("DATA_DIR", "data"), "incoming"),
		"directory to write drop files into")
	cmd.Flags().IntVar(&days, "days", defaults.Days, "number of consecutive run dates to generate")
	cmd.Flags().IntVar(&ordersPerDay, "orders", defaults.OrdersPerDay, "orders per day")
	cmd.Flags().IntVar(&eventsPerDay, "events", defaults.EventsPerDay, "events per day")
	cmd.Flags().IntVar(&products, "products", defaults.ProductCount, "size of the product catalog")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed (fixed seed gives reproducible output)")

	return cmd
}
