// Pica
// Copyright (C) 2025 Pica, Inc.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package k8s tears down the cluster resources backing database-type
// connections. Each such connection runs as a deployment plus a service
// named after the connection id; the connection-lost callback deletes both.
package k8s

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gravitational/trace"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/picahq/pica/lib/types"
)

// Driver removes the cluster resources of one connection. The namespace
// comes from the connection's stored secret; an empty namespace falls back
// to the driver default. Deletion is idempotent: resources that are already
// gone do not error.
type Driver interface {
	DeleteAll(ctx context.Context, namespace string, connectionID types.ID) error
}

// ResourceName derives the deployment and service name from a connection
// id: lowercased, with everything outside [a-z0-9-] folded to "-", fitting
// the RFC 1123 label rules.
func ResourceName(connectionID types.ID) string {
	var b strings.Builder
	for _, r := range strings.ToLower(connectionID.String()) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// ClusterDriver deletes resources through the in-cluster API server.
type ClusterDriver struct {
	client    kubernetes.Interface
	namespace string
	log       *slog.Logger
}

// NewClusterDriver builds a driver from the in-cluster config.
func NewClusterDriver(namespace string, log *slog.Logger) (*ClusterDriver, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return NewClusterDriverWithClient(client, namespace, log), nil
}

// NewClusterDriverWithClient builds a driver over an existing clientset.
func NewClusterDriverWithClient(client kubernetes.Interface, namespace string, log *slog.Logger) *ClusterDriver {
	if namespace == "" {
		namespace = "default"
	}
	return &ClusterDriver{
		client:    client,
		namespace: namespace,
		log:       log.With("component", "k8s"),
	}
}

func (d *ClusterDriver) DeleteAll(ctx context.Context, namespace string, connectionID types.ID) error {
	if namespace == "" {
		namespace = d.namespace
	}
	name := ResourceName(connectionID)

	err := d.client.AppsV1().Deployments(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return trace.Wrap(err, "deleting deployment %q", name)
	}
	err = d.client.CoreV1().Services(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return trace.Wrap(err, "deleting service %q", name)
	}
	d.log.InfoContext(ctx, "deleted connection resources", "name", name, "namespace", namespace)
	return nil
}

// LoggerDriver only logs what would be deleted. The default outside a
// cluster.
type LoggerDriver struct {
	log *slog.Logger
}

// NewLoggerDriver builds the logging driver.
func NewLoggerDriver(log *slog.Logger) *LoggerDriver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerDriver{log: log.With("component", "k8s")}
}

func (d *LoggerDriver) DeleteAll(ctx context.Context, namespace string, connectionID types.ID) error {
	d.log.InfoContext(ctx, "would delete connection resources", "name", ResourceName(connectionID), "namespace", namespace)
	return nil
}
