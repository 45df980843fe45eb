// protoschema 为竞技场 WebSocket 协议生成 JSON Schema
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/invopop/jsonschema"

	"slaparena/protocol"
)

type message struct {
	typ string
	v   any
}

var serverMessages = []message{
	{protocol.TypeInit, protocol.InitMessage{}},
	{protocol.TypePlayerJoined, protocol.PlayerJoinedMessage{}},
	{protocol.TypePlayerLeft, protocol.PlayerLeftMessage{}},
	{protocol.TypePlayerMoved, protocol.PlayerMovedMessage{}},
	{protocol.TypePlayerHit, protocol.PlayerHitMessage{}},
	{protocol.TypePlayerDied, protocol.PlayerDiedMessage{}},
	{protocol.TypePlayerUpdate, protocol.PlayerUpdateMessage{}},
	{protocol.TypeGasRecharge, protocol.RosterMessage{}},
	{protocol.TypeGameReset, protocol.RosterMessage{}},
}

var clientTypes = []string{
	protocol.TypeMove,
	protocol.TypeSlap,
	protocol.TypeUpdateProfile,
	protocol.TypeRespawn,
}

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema")
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}
	if err := writeSchema(outPath, buildSchema()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}

	server := make([]*jsonschema.Schema, 0, len(serverMessages))
	for _, m := range serverMessages {
		s := reflector.ReflectFromType(reflect.TypeOf(m.v))
		s.Version = ""
		s.Title = m.typ
		pinType(s, m.typ)
		server = append(server, s)
	}

	client := make([]*jsonschema.Schema, 0, len(clientTypes))
	for _, typ := range clientTypes {
		s := reflector.ReflectFromType(reflect.TypeOf(protocol.ClientMessage{}))
		s.Version = ""
		s.Title = typ
		pinType(s, typ)
		client = append(client, s)
	}

	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "SlapArena wire protocol",
		Description: "JSON text frames exchanged over /ws.",
		OneOf: []*jsonschema.Schema{
			{Title: "Server messages", OneOf: server},
			{Title: "Client messages", OneOf: client},
		},
	}
}

// pinType 把 type 字段固定为对应的常量
func pinType(s *jsonschema.Schema, typ string) {
	if s.Properties == nil {
		return
	}
	if p, ok := s.Properties.Get("type"); ok {
		p.Const = typ
	}
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}
	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	return nil
}
