package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/docqa/internal/vectorstore"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise the index manifest",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(statsCmd)
}

type manifestSummary struct {
	Path       string         `json:"path"`
	Version    int            `json:"version"`
	Dimension  int            `json:"dimension"`
	Entries    int            `json:"entries"`
	Documents  int            `json:"documents"`
	NextSlot   int            `json:"next_slot"`
	Tombstones int            `json:"tombstones"`
	SavedAt    time.Time      `json:"saved_at"`
	PerDoc     map[string]int `json:"chunks_per_document"`
}

func summarise(path string, m vectorstore.Manifest) manifestSummary {
	perDoc := make(map[uuid.UUID]int)
	for _, e := range m.Entries {
		perDoc[e.DocumentID]++
	}
	s := manifestSummary{
		Path:       path,
		Version:    m.Version,
		Dimension:  m.Dimension,
		Entries:    len(m.Entries),
		Documents:  len(perDoc),
		NextSlot:   m.NextSlot,
		Tombstones: m.NextSlot - len(m.Entries),
		SavedAt:    m.SavedAt,
		PerDoc:     make(map[string]int, len(perDoc)),
	}
	for id, n := range perDoc {
		s.PerDoc[id.String()] = n
	}
	return s
}

func runStats(cmd *cobra.Command, args []string) error {
	m, err := vectorstore.ReadManifest(manifestPath)
	if err != nil {
		return err
	}
	s := summarise(manifestPath, m)

	if statsJSON {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal stats: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("manifest:   %s\n", s.Path)
	cmd.Printf("saved at:   %s\n", s.SavedAt.Format(time.RFC3339))
	cmd.Printf("dimension:  %d\n", s.Dimension)
	cmd.Printf("entries:    %d\n", s.Entries)
	cmd.Printf("documents:  %d\n", s.Documents)
	cmd.Printf("tombstones: %d\n", s.Tombstones)
	return nil
}
