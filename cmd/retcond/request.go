package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kong/retcon/internal/config"
	"github.com/kong/retcon/pkg/cprint"
	"github.com/kong/retcon/pkg/document"
	"github.com/kong/retcon/pkg/kernel"
	"github.com/kong/retcon/pkg/model"
	"github.com/kong/retcon/pkg/rerr"
)

// newRequestCommand builds the create/read/update/delete subcommand
// named op; all four share the same "ENTITY SOURCE KEY" shape and
// differ only in which kernel.Request constructor they call (spec §6).
func newRequestCommand(op string) *cobra.Command {
	return &cobra.Command{
		Use:   op + " ENTITY SOURCE KEY",
		Short: fmt.Sprintf("%s the entity identified by ENTITY/SOURCE/KEY", op),
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd.Context(), op, args[0], args[1], args[2])
		},
	}
}

func runRequest(ctx context.Context, op, entity, source, key string) error {
	cfg, err := config.LoadFile(resolveConfigPath())
	if err != nil {
		return rerr.Config("%v", err)
	}

	k, err := buildKernel(cfg)
	if err != nil {
		return err
	}

	fk := model.ForeignKey{Entity: model.EntityName(entity), Source: model.SourceName(source), Key: key}
	req, err := requestFor(op, fk)
	if err != nil {
		return rerr.Config("%v", err)
	}

	doc, err := k.Handle(ctx, req)
	if err != nil {
		return err
	}

	printResult(op, fk, doc)
	return nil
}

func requestFor(op string, fk model.ForeignKey) (kernel.Request, error) {
	switch op {
	case "create":
		return kernel.Create(fk), nil
	case "read":
		return kernel.Read(fk), nil
	case "update":
		return kernel.Update(fk), nil
	case "delete":
		return kernel.Delete(fk), nil
	default:
		return kernel.Request{}, fmt.Errorf("unknown operation %q", op)
	}
}

func printResult(op string, fk model.ForeignKey, doc *document.Document) {
	raw, err := doc.ToJSON(nil)
	if err != nil {
		cprint.UpdatePrintlnStdErr(fmt.Sprintf("warning: encoding result for %s: %v", fk, err))
		return
	}
	switch op {
	case "create":
		cprint.CreatePrintln(string(raw))
	case "delete":
		cprint.DeletePrintln(string(raw))
	case "update":
		cprint.UpdatePrintln(string(raw))
	default:
		fmt.Fprintln(os.Stdout, string(raw))
	}
}

// exitCodeFor maps a kernel error to the process exit code of spec §6:
// "0 success; 1 configuration error; 2 reconciliation error". Errors
// that never reached the kernel (bad flags, bad arguments, a bad
// config file) are usage/configuration problems and also exit 1.
func exitCodeFor(err error) int {
	var re *rerr.RetconError
	if errors.As(err, &re) && re.Kind != rerr.KindConfig {
		return 2
	}
	return 1
}
