package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"bitbucket.org/mmdatafocus/dfia_ledger/models"
	"bitbucket.org/mmdatafocus/dfia_ledger/utils"
	"bitbucket.org/mmdatafocus/dfia_ledger/workflow"
)

func main() {
	licenseNumbers := flag.String("license", "", "Optional: comma separated license numbers (default: every license)")
	output := flag.String("out", "license-balances.xlsx", "Output workbook path")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing licenses and continue with the others")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()
	ctx := utils.SystemContext(context.Background(), "")

	licenses, err := selectLicenses(ctx, *licenseNumbers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve licenses: %v\n", err)
		os.Exit(1)
	}

	e := workflow.NewEngine(db, logger, config.GetEngineSettings())
	reports := make([]licenseReport, 0, len(licenses))
	for _, l := range licenses {
		r, err := collectLicenseReport(ctx, e, l.ID, l.LicenseNumber)
		if err != nil {
			if *continueOnError {
				fmt.Fprintf(os.Stderr, "license %s failed (skipping): %v\n", l.LicenseNumber, err)
				continue
			}
			fmt.Fprintf(os.Stderr, "license %s failed: %v\n", l.LicenseNumber, err)
			os.Exit(1)
		}
		reports = append(reports, r)
	}

	f, err := buildWorkbook(reports)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build workbook: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	if err := f.SaveAs(*output); err != nil {
		fmt.Fprintf(os.Stderr, "save %s: %v\n", *output, err)
		os.Exit(1)
	}
	fmt.Printf("balance report written to %s (licenses=%d)\n", *output, len(reports))
}

func selectLicenses(ctx context.Context, numbers string) ([]*models.License, error) {
	if strings.TrimSpace(numbers) == "" {
		ids, err := models.GetLicenseIds(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]*models.License, 0, len(ids))
		for _, id := range ids {
			l, err := models.GetLicense(ctx, id)
			if err != nil {
				return nil, err
			}
			out = append(out, l)
		}
		return out, nil
	}
	var out []*models.License
	for _, n := range utils.UniqueSlice(strings.Split(numbers, ",")) {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		l, err := models.GetLicenseByNumber(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("license %q: %w", n, err)
		}
		out = append(out, l)
	}
	return out, nil
}
