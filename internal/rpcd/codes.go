package rpcd

// Call codes are the stable wire contract for the RPC frame protocol
// (spec §6): one integer line selects the operation, everything after
// it is that operation's argument lines in the documented order.
//
// Families are grouped by decade the way the original code table
// groups them; gaps are reserved for the RPC families spec.md §9
// leaves unimplemented (DC offset, IQ balance, frequency correction,
// bandwidth, clocking, time, sensors, registers, settings, GPIO, I2C,
// SPI, UART) — those codes simply never appear in callHandler's switch
// (handlers.go) and fall through to the unknown-call path.
const (
	callDrop = 1000

	callGetHardwareKey  = 10
	callGetHardwareInfo = 11

	callGetFrontendMapping = 12
	callSetFrontendMapping = 13

	callGetNumChannels = 14
	callGetChannelInfo = 15
	callGetFullDuplex  = 16

	callGetStreamFormats       = 20
	callGetNativeStreamFormat  = 21
	callSetupStream            = 22
	callActivateStream         = 23
	callDeactivateStream       = 24
	callCloseStream            = 25
	callGetStreamMTU           = 26
	callGetStreamArgsInfo      = 27

	callListAntennas = 30
	callGetAntenna   = 31
	callSetAntenna   = 32

	callHasGainMode         = 33
	callGetGainMode         = 34
	callSetGainMode         = 35
	callListGains           = 36
	callGetGain             = 37
	callSetGain             = 38
	callGetGainElement      = 39
	callSetGainElement      = 40
	callGetGainElementRange = 41
	callGetGainRange        = 42

	callListFrequencies           = 43
	callGetFrequency              = 44
	callSetFrequency              = 45
	callGetFrequencyElement       = 46
	callSetFrequencyElement       = 47
	callGetFrequencyElementRange  = 48
	callGetFrequencyRange         = 49

	callGetSampleRate      = 50
	callGetSampleRateRange = 51
	callSetSampleRate      = 52
)

// Reply sentinels. All numeric replies that signal error are distinct
// negative integers; zero or positive means success.
const (
	replyUnknownCall = -1000
)
