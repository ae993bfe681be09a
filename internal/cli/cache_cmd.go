package cli

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the response cache of a running server",
}

type cacheStats struct {
	Entries   int     `json:"entries"`
	Capacity  int     `json:"capacity"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Shared    int64   `json:"shared"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

func serverRequest(cmd *cobra.Command, method, path string) ([]byte, error) {
	server, _ := cmd.Flags().GetString("server")
	req, err := http.NewRequestWithContext(cmd.Context(), method, strings.TrimRight(server, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contact server: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show hit, miss and eviction counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := serverRequest(cmd, http.MethodGet, "/api/cache")
		if err != nil {
			return err
		}
		var st cacheStats
		if err := sonic.Unmarshal(body, &st); err != nil {
			return fmt.Errorf("decode stats: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "entries:   %d / %d\n", st.Entries, st.Capacity)
		fmt.Fprintf(out, "hits:      %d\n", st.Hits)
		fmt.Fprintf(out, "misses:    %d\n", st.Misses)
		fmt.Fprintf(out, "shared:    %d\n", st.Shared)
		fmt.Fprintf(out, "evictions: %d\n", st.Evictions)
		fmt.Fprintf(out, "hit rate:  %.1f%%\n", st.HitRate*100)
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop every cached response",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := serverRequest(cmd, http.MethodDelete, "/api/cache")
		if err != nil {
			return err
		}
		var res struct {
			Purged int `json:"purged"`
		}
		if err := sonic.Unmarshal(body, &res); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d entries\n", res.Purged)
		return nil
	},
}

func init() {
	cacheCmd.PersistentFlags().String("server", "http://localhost:8080", "base URL of a running writefactory server")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}
