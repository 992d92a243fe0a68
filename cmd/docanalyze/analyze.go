package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docanalysis/constants"
	"github.com/joseph-ayodele/docanalysis/internal/analyzer"
	"github.com/joseph-ayodele/docanalysis/internal/common"
)

func runAnalyze(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	var (
		cf          commonFlags
		outDir      string
		withXLSX    bool
		contentType string
		endpointURL string
		modelID     string
		features    string
	)
	cf.register(fs)
	fs.StringVar(&outDir, "out", "", "write <name>.json (and .xlsx) here instead of printing JSON")
	fs.BoolVar(&withXLSX, "xlsx", false, "also write an XLSX workbook (requires -out)")
	fs.StringVar(&contentType, "content-type", "", "content type of the file (default: from extension)")
	fs.StringVar(&endpointURL, "endpoint", "", "Document Intelligence endpoint (overrides config)")
	fs.StringVar(&modelID, "model", "", "model id (overrides config)")
	fs.StringVar(&features, "features", "", "comma-separated add-on features (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return common.ConfigError("analyze takes exactly one file")
	}
	if withXLSX && outDir == "" {
		return common.ConfigError("-xlsx requires -out")
	}
	path := fs.Arg(0)

	cfg, logger, err := cf.load()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ep := a.endpoint
	if endpointURL != "" {
		ep.URL = endpointURL
	}
	if modelID != "" {
		ep.ModelID = modelID
	}
	if features != "" {
		ep.Features = nil
		for _, f := range strings.Split(features, ",") {
			if f = strings.TrimSpace(f); f != "" {
				ep.Features = append(ep.Features, f)
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if contentType == "" {
		contentType = constants.ContentTypeForExt(filepath.Ext(path))
	}

	ctx = common.WithRequestID(ctx, uuid.NewString())
	res, err := a.analyzer.Analyze(ctx, analyzer.Request{
		File:        data,
		ContentType: contentType,
		FileName:    filepath.Base(path),
	}, ep)
	if err != nil {
		return err
	}

	if outDir == "" {
		b, err := a.exporter.ResultJSON(res)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, string(b))
		return err
	}
	paths, err := a.exporter.WriteResult(outDir, filepath.Base(path), res, withXLSX)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(stdout, p)
	}
	return nil
}
