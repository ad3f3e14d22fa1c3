package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"evalgo.org/gridstore/internal/blob"
	"evalgo.org/gridstore/internal/index"
	"evalgo.org/gridstore/internal/storage"
	"evalgo.org/gridstore/models"
)

var (
	exportNetwork string
	exportOutput  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a network as a YAML dump",
	Long: `Export every record of a network in the layout read by import.

The network uuid is left out so the dump can be imported as a new network.

Examples:
  gridstore export --network 7928181c-7977-4592-ba19-88027e4254e4
  gridstore export --network 7928181c-7977-4592-ba19-88027e4254e4 -o dump.yaml
  gridstore export --network 7928181c-7977-4592-ba19-88027e4254e4 -o s3://grid-dumps/2024/case.yaml`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportNetwork, "network", "", "network UUID")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "-", "destination (path, s3://bucket/key or - for stdout)")
	_ = exportCmd.MarkFlagRequired("network") //nolint:errcheck
}

func runExport(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	network, err := uuid.Parse(exportNetwork)
	if err != nil {
		return fmt.Errorf("invalid network id: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer client.Close()

	idx := index.New(network, storage.WithTimeout(client, cfg.Store.Timeout),
		index.WithLogger(logger),
		index.WithPageSize(cfg.Index.PageSize),
	)
	var buf bytes.Buffer
	counts, err := exportDump(ctx, idx, &buf)
	if err != nil {
		return err
	}

	if exportOutput == "-" {
		_, err = io.Copy(cmd.OutOrStdout(), &buf)
		return err
	}
	store, key, err := blob.Open(ctx, exportOutput, cfg.S3)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, key, &buf); err != nil {
		return fmt.Errorf("failed to write dump: %w", err)
	}

	fields := logrus.Fields{"network": network, "output": exportOutput}
	for kind, n := range counts {
		fields[kind.Path()] = n
	}
	logger.WithFields(fields).Info("Export completed")
	return nil
}

// exportDump writes the network of idx to w as a YAML dump and returns the
// number of records written per kind.
func exportDump(ctx context.Context, idx *index.Index, w io.Writer) (map[models.Kind]int, error) {
	network, err := idx.Get(ctx, models.KindNetwork, idx.Network().String())
	if err != nil {
		return nil, err
	}
	out := dump{Resources: make(map[string][]map[string]any)}
	if out.Network, err = toMap(network.Attributes); err != nil {
		return nil, err
	}
	delete(out.Network, "uuid")

	counts := make(map[models.Kind]int)
	for _, kind := range models.Kinds() {
		if kind == models.KindNetwork {
			continue
		}
		records, err := idx.All(ctx, kind)
		if err != nil {
			return counts, fmt.Errorf("failed to read %s: %w", kind.Path(), err)
		}
		for _, res := range records {
			m, err := toMap(res)
			if err != nil {
				return counts, fmt.Errorf("%s %s: %w", kind.Path(), res.ID, err)
			}
			delete(m, "type")
			if m["extensions"] == nil {
				delete(m, "extensions")
			}
			out.Resources[kind.Path()] = append(out.Resources[kind.Path()], m)
		}
		if len(records) > 0 {
			counts[kind] = len(records)
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return counts, fmt.Errorf("failed to encode dump: %w", err)
	}
	return counts, enc.Close()
}

// toMap renders v through its JSON encoding so the dump uses the attribute
// names of the API.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
