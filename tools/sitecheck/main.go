// sitecheck probes every configured site's home listing (and optionally a
// search keyword) and prints a per-site report. Exit code 1 means at least
// one site failed the probe.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"vodstream/config"
	"vodstream/models"
	"vodstream/services/vod"
)

func main() {
	var (
		configPath = flag.String("config", "cache/settings.json", "Path to backend settings.json")
		siteKey    = flag.String("site", "", "Check a single site instead of all")
		keyword    = flag.String("wd", "", "Also run a search for this keyword")
		timeout    = flag.Duration("timeout", 20*time.Second, "Per-site timeout")
	)
	flag.Parse()

	mgr := config.NewManager(*configPath)
	svc, err := vod.NewService(mgr, vod.Options{
		HTTPClient: &http.Client{Timeout: *timeout},
	})
	if err != nil {
		log.Fatalf("initialise engine: %v", err)
	}

	sites := svc.Sites()
	if *siteKey != "" {
		var filtered []models.Site
		for _, site := range sites {
			if site.Key == *siteKey {
				filtered = append(filtered, site)
			}
		}
		if len(filtered) == 0 {
			log.Fatalf("site %q not configured", *siteKey)
		}
		sites = filtered
	}
	if len(sites) == 0 {
		log.Fatal("no sites configured")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SITE\tKIND\tSTATUS\tITEMS\tMILLIS\tDETAIL")

	failures := 0
	for _, site := range sites {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		start := time.Now()
		res, err := svc.ResolveHome(ctx, site.Key, false)
		elapsed := time.Since(start).Milliseconds()
		cancel()

		switch {
		case err != nil:
			failures++
			fmt.Fprintf(w, "%s\t%s\tFAIL\t-\t%d\t%v\n", site.Key, site.Kind, elapsed, err)
		case res.IsError():
			failures++
			fmt.Fprintf(w, "%s\t%s\tFAIL\t-\t%d\t%s\n", site.Key, site.Kind, elapsed, res.Error)
		default:
			fmt.Fprintf(w, "%s\t%s\tOK\t%d\t%d\t%d categories\n", site.Key, site.Kind, len(res.List), elapsed, len(res.Classes))
		}
	}
	w.Flush()

	if *keyword != "" {
		fmt.Printf("\nsearch %q:\n", *keyword)
		ctx, cancel := context.WithTimeout(context.Background(), 2*(*timeout))
		defer cancel()
		keys := make([]string, 0, len(sites))
		for _, site := range sites {
			keys = append(keys, site.Key)
		}
		for u := range svc.Search(ctx, keys, *keyword, false) {
			switch {
			case u.Err != nil:
				failures++
				fmt.Printf("  %s: FAIL after %dms: %v\n", u.Site.Key, u.Elapsed.Milliseconds(), u.Err)
			case u.TimedOut:
				failures++
				fmt.Printf("  %s: TIMEOUT after %dms\n", u.Site.Key, u.Elapsed.Milliseconds())
			default:
				fmt.Printf("  %s: %d result(s) in %dms\n", u.Site.Key, len(u.Result.List), u.Elapsed.Milliseconds())
			}
		}
	}

	if failures > 0 {
		os.Exit(1)
	}
}
