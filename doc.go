/*
CHANWATCH is a ground data system client that follows F Prime telemetry
channels. It connects to a GDS TCP server, registers as a ground client,
decodes the telemetry it relays and keeps the most recent value of every
channel in the deployment's dictionary. Every dump interval the last values
are printed, one per line:

	2023-07-19 18:59:20: blockDrv.BD_Cycles = 1275
	2023-07-19 18:59:20: pingRcvr.Temperature = 21.5

Interrupt (CTRL-C) stops the client.

Command-line Flags:

	--channel-name=""

Name of channel to filter on. Required. An unknown name is reported along
with every name the dictionary does contain:

	[ERROR] Unknown channel name: 'doesNotExist'
		blockDrv.BD_Cycles

	--dictionary=""

Path to the deployment's JSON dictionary. Required. Comments and trailing
commas are allowed.

	--ip-address="127.0.0.1"
	--ip-port=50050

Address and port of the GDS TCP server.

	--framing="packet"

How packets are delimited on the stream. "packet" reads the U32 length
prefixed packets the GDS server relays to ground clients. "fprime" reads
frames straight from flight software:

	U32 0xDEADBEEF | U32 size | packet | U32 CRC-32

Frames failing the checksum are logged and skipped.

	--connect-timeout=5s
	--max-packet-length=65536

Time allowed to connect, and the largest packet accepted.

	--dump-interval=60s

Time between dumps of the last received values.

	--duration=0

Time to run for, 0 for infinite. Exiting after an expired duration logs the
total runtime.

	--follow=false

Also print the filtered channel each time it is received.

	--format="plain"

Output format: plain, csv or json. Plain timestamps are controlled with

	--timestamp-format="%Y-%m-%d %H:%M:%S"

which takes strftime directives. CSV output starts with a header row:

	time,id,name,value

	--log-level="warning"
	--logfile=""

Diagnostic log level and destination. Log files are rotated.

	--config=""

YAML file of flag values keyed by flag name:

	dictionary: /opt/ref/dict/RefTopologyDictionary.json
	ip-address: 192.168.1.20
	dump-interval: 10s

Every flag may also be set through the environment as CHANWATCH_ followed
by the upper cased flag name with dashes replaced by underscores, e.g.
CHANWATCH_IP_PORT. The command line takes precedence over the environment,
which takes precedence over the config file.

	--version=false

Display build tag, date and commit hash.
*/
package main
