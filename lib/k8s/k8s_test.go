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

package k8s

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/picahq/pica/lib/types"
)

func TestResourceName(t *testing.T) {
	require.Equal(t, "conn--abc--def", ResourceName(types.ID("conn::Abc::dEf")))
	require.Equal(t, "conn--a-b", ResourceName(types.ID("conn::a_b")))
	// Leading and trailing separators are trimmed.
	require.Equal(t, "x", ResourceName(types.ID("::x::")))
}

func TestClusterDriverDeleteAll(t *testing.T) {
	ctx := context.Background()
	id := types.ID("conn::abc::def")
	name := ResourceName(id)

	client := fake.NewSimpleClientset(
		&appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "connections"}},
		&corev1.Service{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "connections"}},
	)
	driver := NewClusterDriverWithClient(client, "default", slog.Default())

	require.NoError(t, driver.DeleteAll(ctx, "connections", id))
	_, err := client.AppsV1().Deployments("connections").Get(ctx, name, metav1.GetOptions{})
	require.Error(t, err)
	_, err = client.CoreV1().Services("connections").Get(ctx, name, metav1.GetOptions{})
	require.Error(t, err)

	// Idempotent: deleting again succeeds.
	require.NoError(t, driver.DeleteAll(ctx, "connections", id))
}

func TestClusterDriverNamespaceFallback(t *testing.T) {
	ctx := context.Background()
	id := types.ID("conn::abc::def")
	name := ResourceName(id)

	client := fake.NewSimpleClientset(
		&appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default"}},
	)
	driver := NewClusterDriverWithClient(client, "default", slog.Default())

	// Empty namespace falls back to the driver default.
	require.NoError(t, driver.DeleteAll(ctx, "", id))
	_, err := client.AppsV1().Deployments("default").Get(ctx, name, metav1.GetOptions{})
	require.Error(t, err)
}
