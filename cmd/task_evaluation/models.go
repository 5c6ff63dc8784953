package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	yaml "go.yaml.in/yaml/v3"

	appI18n "github.com/pavelanni/taskeval/internal/i18n"
	"github.com/pavelanni/taskeval/internal/store"
)

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage candidate (model) metadata",
	}
	cmd.PersistentFlags().String("db", "taskeval.db", "SQLite database path")

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import candidate metadata from a JSON, YAML or TOML file",
		Args:  cobra.ExactArgs(1),
		RunE:  runModelsImport,
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print all candidate metadata as JSON",
		Args:  cobra.NoArgs,
		RunE:  runModelsList,
	}
	cmd.AddCommand(importCmd, listCmd)
	return cmd
}

func runModelsImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx := appI18n.WithLang(cmd.Context(), lang)

	md, err := readMetadataFile(args[0])
	if err != nil {
		return err
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	n, err := db.ImportCandidateMetadata(ctx, md)
	if err != nil {
		return fmt.Errorf("import metadata: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), appI18n.Tp(ctx, "CandidatesImported", n))
	return nil
}

func runModelsList(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	md, err := db.AllCandidateMetadata(cmd.Context())
	if err != nil {
		return fmt.Errorf("list metadata: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(md)
}

// readMetadataFile decodes {"candidate": {"key": value}}. Scalar values of
// any type are stored as strings.
func readMetadataFile(path string) (map[string]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var raw map[string]map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	md := make(map[string]map[string]string, len(raw))
	for candidate, fields := range raw {
		out := make(map[string]string, len(fields))
		for k, val := range fields {
			out[k] = metadataValue(val)
		}
		md[candidate] = out
	}
	return md, nil
}

func metadataValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = metadataValue(e)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}
