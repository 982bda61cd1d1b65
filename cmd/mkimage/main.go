// Command mkimage is a host-side developer tool: it validates a boot
// manifest and the ELF32 MIPS binary it names, then reports the
// environment layout (entry point, segment count, memory footprint) that
// booting it would produce, without running any kernel code.
//
// The teacher's own mkfs command (mkfs/mkfs.go) validates inputs and
// reports what it built, but takes plain positional os.Args rather than
// a Cobra command tree; the Cobra shape here — one root command, one
// named subcommand, bound flags — is grounded on the sibling
// ja7ad-consumption reference's CLI (cmd/consumption/main.go), the
// pack's one real Cobra user. "Validate inputs and report what it would
// have built, ahead of an actual boot/flash step" is still mkfs's own
// idiom, just expressed through a different CLI framework.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"exomips/boot"
	"exomips/elfload"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var manifestPath string

	root := &cobra.Command{
		Use:   "mkimage",
		Short: "Validate a boot manifest and its init binary",
	}

	inspect := &cobra.Command{
		Use:   "inspect BINARY",
		Short: "Parse an ELF32 MIPS binary and print its segment layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args[0], manifestPath)
		},
	}
	inspect.Flags().StringVarP(&manifestPath, "manifest", "m", "", "boot manifest (YAML); defaults are used if omitted")
	root.AddCommand(inspect)

	return root
}

func runInspect(cmd *cobra.Command, binaryPath, manifestPath string) error {
	cfg := boot.DefaultConfig()
	if manifestPath != "" {
		f, err := os.Open(manifestPath)
		if err != nil {
			return fmt.Errorf("open manifest: %w", err)
		}
		defer f.Close()
		cfg, err = boot.LoadConfig(f)
		if err != nil {
			return fmt.Errorf("parse manifest: %w", err)
		}
	}

	data, err := os.ReadFile(binaryPath)
	if err != nil {
		return fmt.Errorf("read binary: %w", err)
	}

	img, perr := elfload.Parse(data)
	if perr != 0 {
		return fmt.Errorf("parse ELF: %s", perr)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "entry:    %#08x\n", uint32(img.Entry))
	fmt.Fprintf(out, "segments: %d\n", len(img.Segments))
	total := uint32(0)
	for i, seg := range img.Segments {
		fmt.Fprintf(out, "  [%d] va=%#08x filesize=%d memsize=%d writable=%v\n",
			i, uint32(seg.VA), len(seg.Data), seg.MemSize, seg.Writable)
		total += seg.MemSize
	}
	fmt.Fprintf(out, "total memory footprint: %d bytes\n", total)
	fmt.Fprintf(out, "configured pool:        %d frames starting at ppn %#x\n", cfg.Memory.Frames, cfg.Memory.StartPPN)
	if uint64(total) > uint64(cfg.Memory.Frames)*4096 {
		return fmt.Errorf("binary footprint exceeds configured memory pool")
	}
	return nil
}
