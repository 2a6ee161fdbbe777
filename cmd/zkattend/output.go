package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/siwa2904/zkattend"
	"github.com/siwa2904/zkattend/scanner"
	"gopkg.in/yaml.v3"
)

// render writes v to w as json, yaml or an aligned table.
func render(w io.Writer, format string, v interface{}) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		return renderTable(w, v)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func renderTable(w io.Writer, v interface{}) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	switch v := v.(type) {
	case *scanner.Result:
		fmt.Fprintf(tw, "# scan %s on %s: %d host(s), %d device(s)\n", v.ID, v.Subnet, v.Scanned, len(v.Devices))
		fmt.Fprintln(tw, "IP\tPORTS\tNAME\tFIRMWARE\tSERIAL")
		for _, d := range v.Devices {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.IP, ports(d.OpenPorts), deref(d.DeviceName), deref(d.FirmwareVersion), deref(d.SerialNumber))
		}
	case []zkattend.User:
		fmt.Fprintln(tw, "UID\tNAME\tEXTERNAL ID")
		for _, u := range v {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", u.UID, u.Name, u.ExternalID)
		}
	case []zkattend.AttendanceRecord:
		fmt.Fprintln(tw, "USER\tNAME\tDATE\tTIME\tEVENT")
		for _, r := range v {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.UserID, r.UserName, r.Date, r.Time, r.Event)
		}
	default:
		return fmt.Errorf("no table layout for %T", v)
	}
	return tw.Flush()
}

func ports(p []int) string {
	parts := make([]string, len(p))
	for i, n := range p {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
