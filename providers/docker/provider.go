// Package docker implements a provider backed by the Docker Engine API.
// It manages containers, networks and volumes.
package docker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/loomctl/loom/internal/ir"
	"github.com/loomctl/loom/internal/provider"
)

const (
	typeContainer = "docker_container"
	typeNetwork   = "docker_network"
	typeVolume    = "docker_volume"
)

type Provider struct {
	client *client.Client
	host   string
}

func New() provider.Provider {
	return &Provider{}
}

func (p *Provider) Schema() provider.Schema {
	return provider.Schema{
		Name: "docker",
		Resources: map[string]provider.ResourceSchema{
			// The engine API offers no in-place mutation for any of
			// these fields; touching one recreates the container.
			typeContainer: {
				ImmutableFields: []string{
					"image", "command", "ports", "env", "networks",
					"volumes", "workingDir", "user",
				},
				Version: 1,
			},
			typeNetwork: {
				ImmutableFields: []string{"driver", "internal"},
				Version:         1,
			},
			typeVolume: {
				ImmutableFields: []string{"driver"},
				Version:         1,
			},
		},
	}
}

func (p *Provider) Configure(ctx context.Context, settings map[string]string) error {
	if p.client != nil && settings["host"] == p.host {
		return nil
	}

	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host := settings["host"]; host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	p.client = cli
	p.host = settings["host"]
	return nil
}

func (p *Provider) ensureClient() error {
	if p.client != nil {
		return nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	p.client = cli
	return nil
}

func (p *Provider) Read(ctx context.Context, typ, id string, prior ir.Attrs) (*provider.ReadResult, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch typ {
	case typeContainer:
		inspect, err := p.client.ContainerInspect(ctx, id)
		if err != nil {
			if client.IsErrNotFound(err) {
				return &provider.ReadResult{Exists: false}, nil
			}
			return nil, fmt.Errorf("failed to inspect container: %w", err)
		}
		attrs := prior.Copy()
		if attrs == nil {
			attrs = ir.Attrs{}
		}
		attrs["image"] = ir.String(inspect.Config.Image)
		return &provider.ReadResult{Exists: true, ID: inspect.ID, Attributes: attrs}, nil

	case typeNetwork:
		inspect, err := p.client.NetworkInspect(ctx, id, network.InspectOptions{})
		if err != nil {
			if client.IsErrNotFound(err) {
				return &provider.ReadResult{Exists: false}, nil
			}
			return nil, fmt.Errorf("failed to inspect network: %w", err)
		}
		attrs := prior.Copy()
		if attrs == nil {
			attrs = ir.Attrs{}
		}
		attrs["driver"] = ir.String(inspect.Driver)
		attrs["internal"] = ir.Bool(inspect.Internal)
		return &provider.ReadResult{Exists: true, ID: inspect.ID, Attributes: attrs}, nil

	case typeVolume:
		vol, err := p.client.VolumeInspect(ctx, id)
		if err != nil {
			if client.IsErrNotFound(err) {
				return &provider.ReadResult{Exists: false}, nil
			}
			return nil, fmt.Errorf("failed to inspect volume: %w", err)
		}
		attrs := prior.Copy()
		if attrs == nil {
			attrs = ir.Attrs{}
		}
		attrs["driver"] = ir.String(vol.Driver)
		return &provider.ReadResult{Exists: true, ID: vol.Name, Attributes: attrs}, nil
	}

	return nil, fmt.Errorf("unsupported resource type: %s", typ)
}

func (p *Provider) Create(ctx context.Context, typ, name string, desired ir.Attrs) (string, ir.Attrs, error) {
	if err := p.ensureClient(); err != nil {
		return "", nil, err
	}

	switch typ {
	case typeContainer:
		return p.createContainer(ctx, name, desired)
	case typeNetwork:
		return p.createNetwork(ctx, name, desired)
	case typeVolume:
		return p.createVolume(ctx, name, desired)
	}
	return "", nil, fmt.Errorf("unsupported resource type: %s", typ)
}

func (p *Provider) Update(ctx context.Context, typ, id string, prior, desired ir.Attrs) (ir.Attrs, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch typ {
	case typeContainer:
		// Restart policy and labels the planner treats as mutable; of
		// those only the restart policy is updatable via the engine API.
		if restart := strAttr(desired, "restart"); restart != strAttr(prior, "restart") {
			_, err := p.client.ContainerUpdate(ctx, id, container.UpdateConfig{
				RestartPolicy: container.RestartPolicy{
					Name: container.RestartPolicyMode(restart),
				},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to update container: %w", err)
			}
		}
		return desired.Copy(), nil

	case typeNetwork, typeVolume:
		// Nothing mutable is left once immutable fields forced replace.
		return desired.Copy(), nil
	}
	return nil, fmt.Errorf("unsupported resource type: %s", typ)
}

func (p *Provider) Delete(ctx context.Context, typ, id string, prior ir.Attrs) error {
	if err := p.ensureClient(); err != nil {
		return err
	}

	switch typ {
	case typeContainer:
		timeout := 10 // seconds
		_ = p.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
		if err := p.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
			if !client.IsErrNotFound(err) {
				return fmt.Errorf("failed to remove container: %w", err)
			}
		}
		return nil

	case typeNetwork:
		if err := p.client.NetworkRemove(ctx, id); err != nil {
			if !client.IsErrNotFound(err) {
				return fmt.Errorf("failed to remove network: %w", err)
			}
		}
		return nil

	case typeVolume:
		if err := p.client.VolumeRemove(ctx, id, true); err != nil {
			if !client.IsErrNotFound(err) {
				return fmt.Errorf("failed to remove volume: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported resource type: %s", typ)
}

func (p *Provider) createContainer(ctx context.Context, name string, desired ir.Attrs) (string, ir.Attrs, error) {
	img := strAttr(desired, "image")
	if img == "" {
		return "", nil, fmt.Errorf("container %s: image attribute is required", name)
	}

	reader, err := p.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return "", nil, fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	io.Copy(io.Discard, reader)
	reader.Close()

	portBindings := nat.PortMap{}
	for _, spec := range strListAttr(desired, "ports") {
		hostPort, containerPort, ok := strings.Cut(spec, ":")
		if !ok {
			return "", nil, fmt.Errorf("invalid port mapping %q, want host:container", spec)
		}
		cp := nat.Port(containerPort + "/tcp")
		portBindings[cp] = append(portBindings[cp], nat.PortBinding{
			HostIP:   "0.0.0.0",
			HostPort: hostPort,
		})
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        strListAttr(desired, "volumes"),
	}
	networks := strListAttr(desired, "networks")
	if len(networks) > 0 {
		hostConfig.NetworkMode = container.NetworkMode(networks[0])
	}
	if restart := strAttr(desired, "restart"); restart != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(restart),
		}
	}

	config := &container.Config{
		Image:      img,
		Cmd:        strListAttr(desired, "command"),
		Env:        envList(strMapAttr(desired, "env")),
		Labels:     strMapAttr(desired, "labels"),
		WorkingDir: strAttr(desired, "workingDir"),
		User:       strAttr(desired, "user"),
	}

	resp, err := p.client.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, &v1.Platform{}, name)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", nil, fmt.Errorf("failed to start container: %w", err)
	}

	return resp.ID, desired.Copy(), nil
}

func (p *Provider) createNetwork(ctx context.Context, name string, desired ir.Attrs) (string, ir.Attrs, error) {
	resp, err := p.client.NetworkCreate(ctx, name, types.NetworkCreate{
		Driver:   strAttr(desired, "driver"),
		Internal: boolAttr(desired, "internal"),
		Labels:   strMapAttr(desired, "labels"),
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create network: %w", err)
	}
	return resp.ID, desired.Copy(), nil
}

func (p *Provider) createVolume(ctx context.Context, name string, desired ir.Attrs) (string, ir.Attrs, error) {
	vol, err := p.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   name,
		Driver: strAttr(desired, "driver"),
		Labels: strMapAttr(desired, "labels"),
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create volume: %w", err)
	}
	return vol.Name, desired.Copy(), nil
}

func strAttr(attrs ir.Attrs, key string) string {
	if v, ok := attrs[key]; ok && v.Kind() == ir.KindString {
		return v.AsString()
	}
	return ""
}

func boolAttr(attrs ir.Attrs, key string) bool {
	if v, ok := attrs[key]; ok && v.Kind() == ir.KindBool {
		return v.AsBool()
	}
	return false
}

func strListAttr(attrs ir.Attrs, key string) []string {
	v, ok := attrs[key]
	if !ok || v.Kind() != ir.KindList {
		return nil
	}
	items := v.AsList()
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item.Kind() == ir.KindString {
			out = append(out, item.AsString())
		}
	}
	return out
}

func strMapAttr(attrs ir.Attrs, key string) map[string]string {
	v, ok := attrs[key]
	if !ok || v.Kind() != ir.KindMap {
		return nil
	}
	entries := v.AsMap()
	out := make(map[string]string, len(entries))
	for k, item := range entries {
		if item.Kind() == ir.KindString {
			out[k] = item.AsString()
		}
	}
	return out
}

func envList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
