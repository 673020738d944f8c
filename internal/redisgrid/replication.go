package redisgrid

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

const (
	// IdleVerifyName は整合性チェック診断の登録名
	IdleVerifyName = "IdleVerify"

	// NoConflictsMessage は全レプリカが追いついている場合のレポート最終行
	NoConflictsMessage = "The check procedure has finished, no conflicts have been found."
)

// Replica は INFO replication の slaveN 行
type Replica struct {
	ID     string
	Addr   string
	State  string
	Offset int64
	Lag    int64
}

// ReplicationInfo は INFO replication の内容
type ReplicationInfo struct {
	Role         string
	MasterOffset int64
	Replicas     []Replica
}

// ParseReplicationInfo は INFO replication の出力を解析する
func ParseReplicationInfo(raw string) (ReplicationInfo, error) {
	var info ReplicationInfo

	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		switch {
		case name == "role":
			info.Role = value
		case name == "master_repl_offset":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return info, fmt.Errorf("parse master_repl_offset %q: %w", value, err)
			}
			info.MasterOffset = n
		case strings.HasPrefix(name, "slave") && isDigits(name[len("slave"):]):
			r, err := parseReplica(name, value)
			if err != nil {
				return info, err
			}
			info.Replicas = append(info.Replicas, r)
		}
	}
	if err := sc.Err(); err != nil {
		return info, err
	}
	if info.Role == "" {
		return info, fmt.Errorf("replication info has no role field")
	}
	return info, nil
}

// parseReplica は "ip=127.0.0.1,port=6380,state=online,offset=42,lag=0" を解析する
func parseReplica(id, value string) (Replica, error) {
	r := Replica{ID: id}
	var ip, port string

	for _, field := range strings.Split(value, ",") {
		k, v, _ := strings.Cut(field, "=")
		switch k {
		case "ip":
			ip = v
		case "port":
			port = v
		case "state":
			r.State = v
		case "offset", "lag":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return r, fmt.Errorf("parse %s %s %q: %w", id, k, v, err)
			}
			if k == "offset" {
				r.Offset = n
			} else {
				r.Lag = n
			}
		}
	}
	r.Addr = ip + ":" + port
	return r, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// RenderIdleVerify はレプリケーション状態から複数行のレポートを作る。
// 全レプリカがonlineかつマスターと同じオフセットなら最終行が NoConflictsMessage になる
func RenderIdleVerify(cacheName string, info ReplicationInfo) (string, error) {
	if info.Role != "master" {
		return "", fmt.Errorf("idle verify must run against the master, connected node has role %q", info.Role)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "idle_verify task was executed with the following args: caches=[%s], excluded=[], cacheFilter=[DEFAULT]\n", cacheName)
	fmt.Fprintf(&b, "idle_verify check has finished, checked 1 master and %d replicas (master offset %d).\n", len(info.Replicas), info.MasterOffset)

	var conflicts []Replica
	for _, r := range info.Replicas {
		if r.State != "online" || r.Offset != info.MasterOffset {
			conflicts = append(conflicts, r)
		}
	}

	if len(conflicts) == 0 {
		b.WriteString(NoConflictsMessage)
		return b.String(), nil
	}

	b.WriteString("Conflict replicas:\n")
	for _, r := range conflicts {
		fmt.Fprintf(&b, "Conflict replica: %s [addr=%s, state=%s, offset=%d, behind=%d, lag=%ds]\n",
			r.ID, r.Addr, r.State, r.Offset, info.MasterOffset-r.Offset, r.Lag)
	}
	fmt.Fprintf(&b, "The check procedure has finished, found %d conflict replicas.", len(conflicts))
	return b.String(), nil
}
