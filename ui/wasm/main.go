//go:build js && wasm

// Command wasm exposes the servo frame codec and the pulse simulator to a
// browser page as the global servopulseWasm object.
package main

import (
	"encoding/hex"
	"syscall/js"

	"servopulse/protocol"
	"servopulse/sim"
)

func main() {
	js.Global().Set("servopulseWasm", js.ValueOf(map[string]interface{}{
		"crc16":         js.FuncOf(crc16Wrapper),
		"encodeCommand": js.FuncOf(encodeCommandWrapper),
		"decodeFrame":   js.FuncOf(decodeFrameWrapper),
		"runScenario":   js.FuncOf(runScenarioWrapper),
		"version":       protocol.Version,
	}))

	select {}
}

// crc16Wrapper returns the frame CRC of a hex string, 0 on bad input
func crc16Wrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf(0)
	}
	data, err := hex.DecodeString(args[0].String())
	if err != nil {
		return js.ValueOf(0)
	}
	return js.ValueOf(int(protocol.CRC16(data)))
}

// encodeCommandWrapper frames a command.
// Args: cmdID (number), values (array of unsigned numbers)
// Returns: hex string of the frame
func encodeCommandWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf("error: missing command id")
	}
	cmdID := uint16(args[0].Int())

	var values []uint32
	if len(args) > 1 && args[1].Type() == js.TypeObject {
		for i := 0; i < args[1].Length(); i++ {
			values = append(values, uint32(args[1].Index(i).Int()))
		}
	}

	out := protocol.NewScratchOutput()
	protocol.NewTransport(out, nil).SendCommand(cmdID, func(output protocol.OutputBuffer) {
		for _, v := range values {
			protocol.EncodeVLQUint(output, v)
		}
	})
	return js.ValueOf(hex.EncodeToString(out.Result()))
}

// decodeFrameWrapper splits one frame into its fields.
// Returns: {length, sequence, cmdID, params: [number], crcValid, error}
func decodeFrameWrapper(this js.Value, args []js.Value) interface{} {
	result := map[string]interface{}{}
	fail := func(msg string) interface{} {
		result["error"] = msg
		return js.ValueOf(result)
	}

	if len(args) < 1 {
		return fail("missing hex string argument")
	}
	data, err := hex.DecodeString(args[0].String())
	if err != nil {
		return fail("invalid hex string: " + err.Error())
	}
	if len(data) < protocol.MessageLengthMin {
		return fail("message too short")
	}
	msgLen := int(data[protocol.MessagePositionLen])
	if msgLen < protocol.MessageLengthMin || msgLen > len(data) {
		return fail("bad length byte")
	}
	if data[msgLen-protocol.MessageTrailerSync] != protocol.MessageValueSync {
		return fail("missing sync byte")
	}

	crcAt := msgLen - protocol.MessageTrailerCRC
	frameCRC := uint16(data[crcAt])<<8 | uint16(data[crcAt+1])
	result["length"] = msgLen
	result["sequence"] = int(data[protocol.MessagePositionSeq] & protocol.MessageSeqMask)
	result["crcValid"] = frameCRC == protocol.CRC16(data[:crcAt])

	payload := data[protocol.MessageHeaderSize:crcAt]
	params := []interface{}{}
	if len(payload) > 0 {
		cmdID, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return fail("command id: " + err.Error())
		}
		result["cmdID"] = int(cmdID)
		for len(payload) > 0 {
			v, err := protocol.DecodeVLQUint(&payload)
			if err != nil {
				break
			}
			params = append(params, int(v))
		}
	}
	result["params"] = params
	return js.ValueOf(result)
}

// runScenarioWrapper runs a YAML scenario and returns the waveform.
// Returns: {name, periods, glitches, widths: [number], edges: [{at, level}], error}
func runScenarioWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf(map[string]interface{}{"error": "missing scenario"})
	}
	s, err := sim.ParseScenario([]byte(args[0].String()))
	if err != nil {
		return js.ValueOf(map[string]interface{}{"error": err.Error()})
	}
	res, err := s.Run()
	if err != nil {
		return js.ValueOf(map[string]interface{}{"error": err.Error()})
	}

	widths := []interface{}{}
	for _, w := range res.Report.Widths() {
		widths = append(widths, float64(w))
	}
	edges := make([]interface{}, 0, len(res.Edges))
	for _, e := range res.Edges {
		edges = append(edges, map[string]interface{}{
			"at":    float64(e.At),
			"level": e.Level,
		})
	}
	return js.ValueOf(map[string]interface{}{
		"name":     s.Name,
		"periods":  len(res.Report.Pulses),
		"glitches": res.Report.Glitches,
		"widths":   widths,
		"edges":    edges,
	})
}
