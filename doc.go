// Package lobbynet is the session protocol that connects game clients to a
// lobby or game server.
//
// A session goes through connect, key exchange, identification and then
// carries arbitrary application commands in sealed, length-framed packets.
// The package declares the shared contracts; the engines live behind the
// lobby package, the WebSocket transport behind the ws package.
//
// # Architecture
//
// Each engine runs one goroutine that polls its transport and turns
// transport events into queued NetEvents. The application drains the queue
// with Server.HandlePackets or Client.HandleEvents whenever it wants (once
// per game tick is typical). Every hook therefore runs on the application's
// goroutine, one at a time, in the order the transport delivered the events.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/lobbynet"
//	    "github.com/luciancaetano/lobbynet/lobby"
//	    "github.com/luciancaetano/lobbynet/packet"
//	)
//
//	server := lobby.NewServer(lobby.ServerConfig{
//	    Port:       7777,
//	    Encryption: true,
//	    Hooks: lobby.ServerHooks{
//	        Identify: func(p *packet.Packet, c lobbynet.Connection) lobbynet.IdentifyResult {
//	            return lobbynet.IdentifyOK
//	        },
//	        HandleCustom: func(code uint32, p *packet.Packet, c lobbynet.Connection) {
//	            server.SendCustomPacket(c, code, p) // echo
//	        },
//	    },
//	})
//	server.Start(ctx)
//	go server.Serve(ctx)
//
// # Protocol Format
//
// Every frame starts with one Command byte:
//
//	[1 byte: Command][payload]
//	[CustomCommand][4 bytes: code (uint32, big-endian)][payload]
//	[CryptoPacket][24 bytes: nonce][sealed inner frame + 16 bytes: tag]
//
// Integers are big-endian; strings and byte slices carry a uint32 length prefix.
//
// # Session Lifecycle
//
//   - Encryption enabled: the server sends HandshakeServerKey, the client
//     answers HandshakeDataKey, the server confirms with HandshakeSuccess.
//     Any failed derivation or confirmation ends in HandshakeFailed and the
//     connection is closed.
//   - Encryption disabled: the server sends ConnectedWithoutEncryption.
//   - In both cases the client must then send Identify. Until the server
//     answers IdentifySuccessful every custom command is refused with
//     NotIdentified.
//
// # Important
//
//   - Hooks run on the goroutine that drains the queue; don't block them.
//   - Packets are not safe for concurrent use; hand them over, don't share.
//   - Decrypt and framing errors drop the frame, they never close the connection.
package lobbynet
