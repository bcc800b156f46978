package main

import (
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/devinv/internal/api"
	"github.com/kalambet/devinv/internal/config"
	"github.com/kalambet/devinv/internal/records"
	"github.com/kalambet/devinv/internal/resolve"
	"github.com/kalambet/devinv/internal/router"
)

var nowFunc = time.Now

// --- create ---

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a device record",
	Long: `Create a device record. When the device is offline the record is
queued locally and gets a provisional offline-N id.

Example:
  devinv create --name "MacBook Pro" --year 2024 --price 1999.99 --cpu M3 --disk "1 TB"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := payloadFromFlags(cmd)
		if err := records.Validate(p, nowFunc()); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/records", p)
		if err != nil {
			return err
		}

		var out router.Outcome
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if out.Offline {
			printWarning("%s", out.Message)
		} else {
			printSuccess("%s", out.Message)
		}
		return printJSON(cmd.OutOrStdout(), out.Record)
	},
}

// payloadFromFlags builds a payload from the create flags. Flags left unset
// are omitted so validation reports them.
func payloadFromFlags(cmd *cobra.Command) records.Payload {
	name, _ := cmd.Flags().GetString("name")
	attrs := map[string]any{}
	for flag, attr := range map[string]string{
		"year":  records.AttrYear,
		"price": records.AttrPrice,
		"cpu":   records.AttrCPUModel,
		"disk":  records.AttrDiskSize,
	} {
		if cmd.Flags().Changed(flag) {
			v, _ := cmd.Flags().GetString(flag)
			attrs[attr] = v
		}
	}
	return records.Payload{Name: name, Attributes: attrs}
}

func init() {
	createCmd.Flags().String("name", "", "device name")
	createCmd.Flags().String("year", "", "year of manufacture (e.g. 2024)")
	createCmd.Flags().String("price", "", "price, greater than 0")
	createCmd.Flags().String("cpu", "", "CPU model")
	createCmd.Flags().String("disk", "", "hard disk size (e.g. 1 TB)")
}

// --- get ---

var getCmd = &cobra.Command{
	Use:   "get <ids>",
	Short: "Fetch records by id",
	Long: `Fetch records by id. Ids may be comma-separated or given as separate
arguments, and may mix server ids with offline-N ids.

Example:
  devinv get 3,5,offline-1`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := records.ParseIDs(strings.Join(args, ","))
		if err := records.ValidateIDs(ids); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/records?ids="+url.QueryEscape(strings.Join(ids, ",")))
		if err != nil {
			return err
		}

		var res resolve.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		if res.Message != "" {
			printWarning("%s", res.Message)
		} else if res.Stale {
			printWarning("Server unreachable. Showing last fetched results.")
		}
		return printJSON(cmd.OutOrStdout(), res.Records)
	},
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Send records queued while offline to the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Syncing offline queue...")
		resp, err := client.post(cmd.Context(), "/sync", nil)
		if err != nil {
			return err
		}

		var out api.SyncResponse
		if err := decodeJSON(resp, &out); err != nil {
			if isAPIError(err, http.StatusConflict) {
				printWarning("%v", err)
				return nil
			}
			return err
		}

		switch {
		case out.Message == "":
			printSuccess("Nothing to sync.")
		case out.Failed > 0:
			printWarning("%s", out.Message)
		default:
			printSuccess("%s", out.Message)
		}
		for _, tempID := range slices.Sorted(maps.Keys(out.IDMap)) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", tempID, out.IDMap[tempID])
		}
		return nil
	},
}

// --- queue ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List records waiting to be synced",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/queue")
		if err != nil {
			return err
		}

		var q api.QueueResponse
		if err := decodeJSON(resp, &q); err != nil {
			return err
		}

		if q.Count == 0 {
			printSuccess("Queue is empty.")
			return nil
		}

		w := cmd.OutOrStdout()
		for _, r := range q.Records {
			fmt.Fprintf(w, "%s  %s\n", colorize(colorBold, r.ID), r.Name)
		}
		printStatus("Pending", "%d", q.Count)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		if cfg.Server.APIToken != "" {
			fmt.Fprintf(w, "  %s = (set via DEVINV_API_TOKEN)\n", colorize(colorBold, "server.api_token"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			fmt.Fprintf(os.Stderr, "valid keys: %s\n", strings.Join(config.ValidKeys(), ", "))
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
