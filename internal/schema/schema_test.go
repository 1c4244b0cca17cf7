package schema

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestDescribeResolvesPath(t *testing.T) {
	root := &cobra.Command{Use: "rathervault"}
	invest := &cobra.Command{Use: "invest <tokenA> <tokenB>", Short: "invest idle balances"}
	invest.Flags().String("variant", "v1", "MasterChef version")
	root.AddCommand(invest)

	desc, err := Describe(root, "invest")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if desc.Path != "rathervault invest" {
		t.Fatalf("unexpected path: %s", desc.Path)
	}
	if len(desc.Flags) != 1 || desc.Flags[0].Name != "variant" || desc.Flags[0].Default != "v1" {
		t.Fatalf("unexpected flags: %+v", desc.Flags)
	}
}

func TestDescribeRootIncludesSubcommands(t *testing.T) {
	root := &cobra.Command{Use: "rathervault"}
	root.AddCommand(&cobra.Command{Use: "balances", Short: "report balances"})
	root.AddCommand(&cobra.Command{Use: "hidden", Hidden: true})

	desc, err := Describe(root, "")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if len(desc.Subcommands) != 1 || desc.Subcommands[0].Use != "balances" {
		t.Fatalf("unexpected subcommands: %+v", desc.Subcommands)
	}
}

func TestDescribeUnknownPath(t *testing.T) {
	root := &cobra.Command{Use: "rathervault"}
	if _, err := Describe(root, "no-such-command"); err == nil {
		t.Fatal("expected error for unknown command path")
	}
}
