package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/matteso1/zindex/internal/keyspace"
	"github.com/matteso1/zindex/internal/protocol"
)

// commandUnknown labels requests whose name matches no command.
const commandUnknown = "unknown"

type command struct {
	// arity counts the command name. Negative means at least -arity.
	arity int
	run   func(ks *keyspace.Keyspace, args [][]byte) protocol.Value
}

var commands = map[string]command{
	"ping":   {arity: -1, run: cmdPing},
	"zadd":   {arity: 4, run: cmdZAdd},
	"zrem":   {arity: 3, run: cmdZRem},
	"zscore": {arity: 3, run: cmdZScore},
	"zquery": {arity: 6, run: cmdZQuery},
	"zrank":  {arity: 3, run: cmdZRank},
	"zcard":  {arity: 2, run: cmdZCard},
	"del":    {arity: 2, run: cmdDel},
	"keys":   {arity: 1, run: cmdKeys},
}

// Dispatcher executes decoded requests against a keyspace.
// Like the keyspace it is not safe for concurrent use.
type Dispatcher struct {
	keys *keyspace.Keyspace
}

// NewDispatcher creates a dispatcher over ks.
func NewDispatcher(ks *keyspace.Keyspace) *Dispatcher {
	return &Dispatcher{keys: ks}
}

// Dispatch runs one request. It returns the normalized command name, which
// is commandUnknown for unrecognized requests, and the response value.
func (d *Dispatcher) Dispatch(args [][]byte) (string, protocol.Value) {
	if len(args) == 0 {
		return commandUnknown, protocol.Err(protocol.ErrCodeUnknown, "empty command")
	}
	name := strings.ToLower(string(args[0]))
	cmd, ok := commands[name]
	if !ok {
		return commandUnknown, protocol.Err(protocol.ErrCodeUnknown, "unknown command")
	}
	if (cmd.arity > 0 && len(args) != cmd.arity) || (cmd.arity < 0 && len(args) < -cmd.arity) {
		return name, protocol.Err(protocol.ErrCodeArg, "wrong number of arguments for "+name)
	}
	return name, cmd.run(d.keys, args)
}

func parseScore(b []byte) (float64, bool) {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func parseInt(b []byte) (int64, bool) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	return n, err == nil
}

func errArg(msg string) protocol.Value {
	return protocol.Err(protocol.ErrCodeArg, msg)
}

func cmdPing(_ *keyspace.Keyspace, args [][]byte) protocol.Value {
	if len(args) > 1 {
		return protocol.Str(string(args[1]))
	}
	return protocol.Str("PONG")
}

// zadd key score name
func cmdZAdd(ks *keyspace.Keyspace, args [][]byte) protocol.Value {
	score, ok := parseScore(args[2])
	if !ok {
		return errArg("expect fp number")
	}
	if ks.GetOrCreate(args[1]).Add(args[3], score) {
		return protocol.Int(1)
	}
	return protocol.Int(0)
}

// zrem key name
func cmdZRem(ks *keyspace.Keyspace, args [][]byte) protocol.Value {
	set := ks.Get(args[1])
	if set == nil {
		return protocol.Int(0)
	}
	if _, ok := set.Remove(args[2]); !ok {
		return protocol.Int(0)
	}
	if set.Len() == 0 {
		ks.Delete(args[1])
	}
	return protocol.Int(1)
}

// zscore key name
func cmdZScore(ks *keyspace.Keyspace, args [][]byte) protocol.Value {
	set := ks.Get(args[1])
	if set == nil {
		return protocol.Nil()
	}
	m, ok := set.Lookup(args[2])
	if !ok {
		return protocol.Nil()
	}
	return protocol.Dbl(m.Score)
}

// zquery key score name offset limit
//
// Replies with a flat array of name, score pairs.
func cmdZQuery(ks *keyspace.Keyspace, args [][]byte) protocol.Value {
	score, ok := parseScore(args[2])
	if !ok {
		return errArg("expect fp number")
	}
	offset, ok := parseInt(args[4])
	if !ok {
		return errArg("expect int")
	}
	limit, ok := parseInt(args[5])
	if !ok {
		return errArg("expect int")
	}

	set := ks.Get(args[1])
	if set == nil {
		return protocol.Arr()
	}
	members := set.Range(score, args[3], offset, limit)
	out := make([]protocol.Value, 0, 2*len(members))
	for _, m := range members {
		out = append(out, protocol.Str(m.Name), protocol.Dbl(m.Score))
	}
	return protocol.Arr(out...)
}

// zrank key name
func cmdZRank(ks *keyspace.Keyspace, args [][]byte) protocol.Value {
	set := ks.Get(args[1])
	if set == nil {
		return protocol.Nil()
	}
	rank, ok := set.Rank(args[2])
	if !ok {
		return protocol.Nil()
	}
	return protocol.Int(rank)
}

// zcard key
func cmdZCard(ks *keyspace.Keyspace, args [][]byte) protocol.Value {
	set := ks.Get(args[1])
	if set == nil {
		return protocol.Int(0)
	}
	return protocol.Int(int64(set.Len()))
}

// del key
func cmdDel(ks *keyspace.Keyspace, args [][]byte) protocol.Value {
	if ks.Delete(args[1]) {
		return protocol.Int(1)
	}
	return protocol.Int(0)
}

func cmdKeys(ks *keyspace.Keyspace, _ [][]byte) protocol.Value {
	keys := ks.Keys()
	out := make([]protocol.Value, len(keys))
	for i, k := range keys {
		out[i] = protocol.Str(k)
	}
	return protocol.Arr(out...)
}
