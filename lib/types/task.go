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

package types

import "time"

// Task is a deferred HTTP POST executed by the watchdog. A task is eligible
// when active=true, workerId=0 and startTime<=now; leasing atomically sets
// workerId=1 and active=false, which is the guard against double execution
// across watchdog replicas. The worker id is an opaque lease token, 0 means
// unleased.
type Task struct {
	ID       ID `bson:"_id" json:"_id"`
	WorkerID int64 `bson:"workerId" json:"workerId"`
	// StartTime is the earliest execution time, milliseconds UTC.
	StartTime int64  `bson:"startTime" json:"startTime"`
	EndTime   int64  `bson:"endTime,omitempty" json:"endTime,omitempty"`
	Endpoint  string `bson:"endpoint" json:"endpoint"`
	Payload   any    `bson:"payload" json:"payload"`
	Status    string `bson:"status,omitempty" json:"status,omitempty"`
	// Await widens the HTTP timeout to the long-task limit.
	Await bool `bson:"await" json:"await"`
	// LogTrail collects the streamed response chunks.
	LogTrail  [][]byte  `bson:"logTrail,omitempty" json:"logTrail,omitempty"`
	Ownership Ownership `bson:"ownership" json:"ownership"`

	RecordMetadata `bson:",inline"`
}

// Eligible reports whether the watchdog may lease the task.
func (t *Task) Eligible(now time.Time) bool {
	return t.Active && t.WorkerID == 0 && t.StartTime <= now.UnixMilli()
}
