package grbl

// Real-time commands are single bytes that GRBL acts on as soon as they
// arrive. They bypass the receive buffer and never get an ack.
const (
	CmdStatus     byte = '?'
	CmdFeedHold   byte = '!'
	CmdCycleStart byte = '~'
	CmdReset      byte = 0x18
	CmdJogCancel  byte = 0x85
)
