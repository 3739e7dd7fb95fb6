package commands

import (
	"fmt"

	"github.com/getcharzp/go-voiceconv/hardware"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe the inference device",
	Long: `探测推理设备, 输出精度与分段窗口 (秒).

Examples:
  vcinfer probe
  vcinfer probe --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		profile, overrides := hardware.NewResolver(nil).Resolve(cfg.IsHalf)
		if jsonOutput {
			return printJSON(map[string]any{
				"device":    profile.Device,
				"precision": profile.Precision.String(),
				"windows":   profile.Windows,
				"overrides": overrides,
			})
		}
		w := newTabWriter()
		fmt.Fprintf(w, "DEVICE\t%s (%s)\n", profile.Device.Name, profile.Device.Kind)
		if profile.Device.MemoryGiB > 0 {
			fmt.Fprintf(w, "MEMORY\t%d GiB\n", profile.Device.MemoryGiB)
		}
		fmt.Fprintf(w, "PRECISION\t%s\n", profile.Precision)
		fmt.Fprintf(w, "WINDOWS\tpad=%d query=%d center=%d max=%d\n",
			profile.Windows.Pad, profile.Windows.Query, profile.Windows.Center, profile.Windows.Max)
		for _, o := range overrides {
			fmt.Fprintf(w, "OVERRIDE\t%s: %q -> %q\n", o.File, o.Old, o.New)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
