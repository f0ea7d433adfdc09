package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mr1hm/go-cap-alerts/internal/cap"
)

func newValidateCmd() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check a CAP document and list every violation",
		ArgsUsage: "<file or '-' for stdin>",
		Action: func(ctx *cli.Context) error {
			a, err := readAlert(ctx)
			if err == nil {
				err = cap.Validate(a)
			}
			if ve, ok := cap.AsValidationError(err); ok {
				for _, f := range ve.Fields {
					fmt.Fprintf(ctx.App.Writer, "%s: %s\n", f.Field, f.Reason)
				}
				return fmt.Errorf("%d violation(s)", len(ve.Fields))
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(ctx.App.Writer, "ok")
			return nil
		},
	}
}

func newRenderCmd() *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "Print a CAP document in canonical form",
		ArgsUsage: "<file or '-' for stdin>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "seal",
				Usage: "Validate and stamp the send time when the document has none",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the flat submission form instead of XML",
			},
		},
		Action: func(ctx *cli.Context) error {
			a, err := readAlert(ctx)
			if err != nil {
				return err
			}
			if ctx.Bool("seal") {
				if err := cap.Seal(a, time.Now()); err != nil {
					return err
				}
			}
			if ctx.Bool("json") {
				raw, err := cap.RawFromAlert(a)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(ctx.App.Writer)
				enc.SetIndent("", "  ")
				return enc.Encode(raw)
			}
			return cap.Encode(ctx.App.Writer, a)
		},
	}
}

func newDeriveCmd() *cli.Command {
	return &cli.Command{
		Name:      "derive",
		Usage:     "Build an Update, Cancel, Ack or Error message that supersedes a sent alert",
		ArgsUsage: "<file or '-' for stdin>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "msg-type",
				Aliases:  []string{"t"},
				Usage:    "Update, Cancel, Ack or Error",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "identifier",
				Usage: "Identifier for the new alert; generated when empty",
			},
		},
		Action: func(ctx *cli.Context) error {
			prior, err := readAlert(ctx)
			if err != nil {
				return err
			}
			next, err := cap.NewAssembler(nil).Derive(prior, cap.MsgType(ctx.String("msg-type")), ctx.String("identifier"))
			if err != nil {
				return err
			}
			return cap.Encode(ctx.App.Writer, next)
		},
	}
}

func newAssembleCmd() *cli.Command {
	return &cli.Command{
		Name:      "assemble",
		Usage:     "Build and seal a CAP document from the flat JSON submission form",
		ArgsUsage: "<file or '-' for stdin>",
		Action: func(ctx *cli.Context) error {
			data, err := readInput(ctx)
			if err != nil {
				return err
			}
			var raw cap.RawAlert
			if err := json.Unmarshal(data, &raw); err != nil {
				return fmt.Errorf("error parsing submission: %w", err)
			}
			a, err := cap.NewAssembler(nil).Assemble(ctx.Context, raw)
			if err != nil {
				return err
			}
			return cap.Encode(ctx.App.Writer, a)
		},
	}
}

func readInput(ctx *cli.Context) ([]byte, error) {
	if ctx.NArg() != 1 {
		return nil, errors.New("exactly one file argument is required")
	}
	path := ctx.Args().First()
	if path == "-" {
		return io.ReadAll(ctx.App.Reader)
	}
	return os.ReadFile(path)
}

func readAlert(ctx *cli.Context) (*cap.Alert, error) {
	data, err := readInput(ctx)
	if err != nil {
		return nil, err
	}
	return cap.Unmarshal(data)
}
