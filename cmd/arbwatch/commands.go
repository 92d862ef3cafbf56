package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"arb-watch-go/arbitrage"
	"arb-watch-go/fees"
	"arb-watch-go/gateway"
	"arb-watch-go/internal/container"
)

var (
	oncePublish bool
	onceJSON    bool

	feesFile  string
	feesVenue string
	feesRole  string
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single cycle and print the summary",
	Long: `执行一轮聚合与计算，写入已配置的快照目标并打印摘要。
binance-stream 源在该模式下不会建立连接，视为无报价。`,
	RunE: runOnce,
}

var feesCmd = &cobra.Command{
	Use:   "fees",
	Short: "Resolve the fee rate for a venue and role",
	Example: `  arbwatch fees --venue kraken --role maker
  arbwatch fees --file configs/fees.yaml --venue coinbase`,
	RunE: runFees,
}

var venuesCmd = &cobra.Command{
	Use:   "venues",
	Short: "List compiled-in quote sources",
	Run: func(cmd *cobra.Command, _ []string) {
		for _, n := range gateway.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
	},
}

func init() {
	onceCmd.Flags().BoolVar(&oncePublish, "publish", false, "忽略限流立即推送到已配置的通道")
	onceCmd.Flags().BoolVar(&onceJSON, "json", false, "输出完整 cycle JSON")

	feesCmd.Flags().StringVar(&feesFile, "file", "", "费率文件，为空则使用内置费率表")
	feesCmd.Flags().StringVar(&feesVenue, "venue", "", "交易所名称")
	feesCmd.Flags().StringVar(&feesRole, "role", "taker", "maker 或 taker")
	_ = feesCmd.MarkFlagRequired("venue")
}

func runOnce(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	c, err := container.New(configPath)
	if err != nil {
		return err
	}
	if err := c.Build(ctx); err != nil {
		return err
	}
	defer c.Close()

	cycle, err := c.Engine().RunOnce(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if onceJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cycle); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, cycle.Summary)
		writeVenueErrors(cmd.ErrOrStderr(), cycle.Errors)
	}
	if oncePublish {
		if err := c.Engine().PublishLatest(ctx, true); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
	}
	return nil
}

// writeVenueErrors 按 venue 名排序输出，保证每次运行顺序一致。
func writeVenueErrors(w io.Writer, errs map[string]string) {
	if len(errs) == 0 {
		return
	}
	venues := make([]string, 0, len(errs))
	for v := range errs {
		venues = append(venues, v)
	}
	sort.Strings(venues)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VENUE\tERROR")
	for _, v := range venues {
		fmt.Fprintf(tw, "%s\t%s\n", v, errs[v])
	}
	_ = tw.Flush()
}

func runFees(cmd *cobra.Command, _ []string) error {
	table := fees.New(fees.DefaultSchedule())
	if feesFile != "" {
		t, err := fees.Load(feesFile)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v (using built-in defaults)\n", err)
		}
		table = t
	}
	role := fees.ParseRole(feesRole)
	rate := table.Rate(feesVenue, role)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s%% (%v)\n", feesVenue, role, arbitrage.FormatPct(rate*100), rate)
	return nil
}
