package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/usat-ai-lab/taklif/internal/console"
)

var (
	qrOut  string
	qrSize int
)

var qrCmd = &cobra.Command{
	Use:   "qr",
	Short: "Print a QR code that opens a chat with the bot",
	Long: `Print a QR code that opens a chat with the bot.

The link is bot.link from the config, or a wa.me link to the number the
running daemon is linked as.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		phone := ""
		if cfg.Bot.Link == "" {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			c, err := mustDial(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			resp, err := c.Status(ctx)
			if err != nil {
				return err
			}
			phone = resp.GetFields()["chat_phone"].GetStringValue()
		}
		link, err := botLink(cfg.Bot.Link, phone)
		if err != nil {
			return err
		}

		if qrOut != "" {
			if err := console.WriteQRPNG(link, qrOut, qrSize); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", qrOut, link)
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", console.RenderQR(link), link)
		return err
	},
}

func init() {
	qrCmd.Flags().StringVar(&qrOut, "out", "", "write a PNG to this path instead of printing")
	qrCmd.Flags().IntVar(&qrSize, "size", 256, "PNG size in pixels")
}

// botLink picks the configured link, falling back to a wa.me link for phone.
func botLink(configured, phone string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if phone == "" {
		return "", fmt.Errorf("bot is not linked yet and bot.link is not configured")
	}
	return "https://wa.me/" + phone, nil
}
