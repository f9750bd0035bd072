// Package mocks provides a testify mock for the engine interface.
package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// Engine is a mock implementation of docker.Engine.
type Engine struct {
	mock.Mock
}

func (m *Engine) Build(ctx context.Context, buildContext io.Reader, tag string, labels map[string]string) (string, error) {
	args := m.Called(ctx, buildContext, tag, labels)
	return args.String(0), args.Error(1)
}

func (m *Engine) Tag(ctx context.Context, source, target string) error {
	args := m.Called(ctx, source, target)
	return args.Error(0)
}

func (m *Engine) Push(ctx context.Context, ref string, registryAuth string) error {
	args := m.Called(ctx, ref, registryAuth)
	return args.Error(0)
}

func (m *Engine) Remove(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func (m *Engine) Close() error {
	args := m.Called()
	return args.Error(0)
}
