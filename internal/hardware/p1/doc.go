// Package p1 reads DSMR smart meters through their P1 port.
//
// The package has three layers that can be used on their own:
//
//   - Parser reassembles telegrams from a byte stream, validates the
//     CRC-16 that DSMR 4 and later append after '!', and hands the text
//     to ParseTelegram.
//   - ParseTelegram decodes the OBIS lines into a Telegram, including gas
//     and water readings relayed on the MBus channels.
//   - Decryptor and FrameAssembler open the AES-128-GCM frames sent by
//     meters in Luxembourg and Austria before the plaintext goes through
//     the Parser.
//
// Meter is the hardware adapter. It connects over a serial port or a
// serial-to-network bridge and emits P1Power, P1Gas, Voltage, Current
// and per-phase Energy messages.
package p1
