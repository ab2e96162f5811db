package main

import (
	"bytes"
	"context"

	"github.com/nmbsim/nmbsim/internal/client"
	"github.com/nmbsim/nmbsim/internal/domain/pkpd"
	"github.com/nmbsim/nmbsim/internal/domain/simulation"
)

// backend runs the CLI commands either in-process or against a server.
type backend interface {
	Simulate(ctx context.Context, req simulation.Request) (*simulation.Outcome, error)
	Validate(ctx context.Context, req simulation.Request) ([]string, error)
	Parameters(ctx context.Context, p pkpd.Patient) (*simulation.ParametersResponse, error)
	Models(ctx context.Context) ([]simulation.ModelInfo, error)
	Export(ctx context.Context, req simulation.Request, format string) ([]byte, error)
}

type localBackend struct {
	svc *simulation.Service
}

func (b localBackend) Simulate(ctx context.Context, req simulation.Request) (*simulation.Outcome, error) {
	return b.svc.Simulate(ctx, req)
}

func (b localBackend) Validate(_ context.Context, req simulation.Request) ([]string, error) {
	return b.svc.Validate(req), nil
}

func (b localBackend) Parameters(_ context.Context, p pkpd.Patient) (*simulation.ParametersResponse, error) {
	return b.svc.Parameters(p)
}

func (b localBackend) Models(context.Context) ([]simulation.ModelInfo, error) {
	return b.svc.Models(), nil
}

func (b localBackend) Export(ctx context.Context, req simulation.Request, format string) ([]byte, error) {
	out, err := b.svc.Simulate(ctx, req)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if format == simulation.FormatXLSX {
		err = simulation.WriteXLSX(&buf, out.Result)
	} else {
		err = pkpd.WriteCSV(&buf, out.Result)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type remoteBackend struct {
	c *client.Client
}

func (b remoteBackend) Simulate(ctx context.Context, req simulation.Request) (*simulation.Outcome, error) {
	return b.c.Simulate(ctx, req)
}

func (b remoteBackend) Validate(ctx context.Context, req simulation.Request) ([]string, error) {
	report, err := b.c.Validate(ctx, req)
	if err != nil {
		return nil, err
	}
	return report.Errors, nil
}

func (b remoteBackend) Parameters(ctx context.Context, p pkpd.Patient) (*simulation.ParametersResponse, error) {
	return b.c.Parameters(ctx, p)
}

func (b remoteBackend) Models(ctx context.Context) ([]simulation.ModelInfo, error) {
	return b.c.Models(ctx)
}

func (b remoteBackend) Export(ctx context.Context, req simulation.Request, format string) ([]byte, error) {
	data, _, err := b.c.Export(ctx, req, format)
	return data, err
}
