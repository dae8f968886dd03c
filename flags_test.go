package main

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type parsers struct {
	standard *StandardPipelineParser
	channel  *ChannelNameParser
	output   *OutputParser
}

func parse(args ...string) (parsers, error) {
	p := parsers{&StandardPipelineParser{}, &ChannelNameParser{}, &OutputParser{}}
	_, err := ParseArgs("chanwatch", args, p.standard, p.channel, p.output)
	return p, err
}

func TestParseDefaults(t *testing.T) {
	p, err := parse("--channel-name", cycles, "--dictionary", "Ref.json")
	require.NoError(t, err)

	assert.Equal(t, cycles, p.channel.ChannelName)
	assert.Equal(t, "127.0.0.1", p.standard.Config.Address)
	assert.Equal(t, 50050, p.standard.Config.Port)
	assert.Equal(t, "Ref.json", p.standard.Config.Dictionary)
	assert.Equal(t, "packet", p.standard.Config.Framing)
	assert.Equal(t, 5*time.Second, p.standard.Config.ConnectTimeout)
	assert.Equal(t, 60*time.Second, p.output.DumpInterval)
	assert.Equal(t, "plain", p.output.Format)
	assert.False(t, p.output.Follow)
}

func TestChannelNameRequired(t *testing.T) {
	_, err := parse("--dictionary", "Ref.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--channel-name")

	_, err = parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--dictionary")
}

func TestVersionSkipsRequired(t *testing.T) {
	p, err := parse("--version")
	require.NoError(t, err)
	assert.True(t, p.output.Version)
}

func TestInvalidValues(t *testing.T) {
	base := []string{"--channel-name", cycles, "--dictionary", "Ref.json"}

	for _, extra := range [][]string{
		{"--framing", "ccsds"},
		{"--ip-port", "70000"},
		{"--format", "xml"},
		{"--dump-interval", "0s"},
		{"--duration", "-1s"},
		{"--log-level", "chatty"},
		{"--ip-port", "many"},
	} {
		_, err := parse(append(base, extra...)...)
		assert.Error(t, err, "%v", extra)
	}
}

func TestFormatCaseInsensitive(t *testing.T) {
	p, err := parse("--channel-name", cycles, "--dictionary", "Ref.json", "--format", "CSV")
	require.NoError(t, err)
	assert.Equal(t, "csv", p.output.Format)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chanwatch.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(body), 0644))
	return path
}

func TestPrecedence(t *testing.T) {
	config := writeConfig(t, `
channel-name: fromConfig
dictionary: config.json
ip-port: 1000
ip-address: 10.0.0.1
follow: true
dump-interval: 5s
`)

	t.Setenv("CHANWATCH_IP_PORT", "2000")
	t.Setenv("CHANWATCH_DICTIONARY", "env.json")

	p, err := parse("--config", config, "--dictionary", "cli.json")
	require.NoError(t, err)

	assert.Equal(t, "cli.json", p.standard.Config.Dictionary, "command line wins")
	assert.Equal(t, 2000, p.standard.Config.Port, "environment beats config")
	assert.Equal(t, "10.0.0.1", p.standard.Config.Address, "config beats default")
	assert.Equal(t, "fromConfig", p.channel.ChannelName, "config satisfies required")
	assert.True(t, p.output.Follow)
	assert.Equal(t, 5*time.Second, p.output.DumpInterval)
	assert.Equal(t, "packet", p.standard.Config.Framing, "default survives")
}

func TestEnvSatisfiesRequired(t *testing.T) {
	t.Setenv("CHANWATCH_CHANNEL_NAME", cycles)
	t.Setenv("CHANWATCH_DICTIONARY", "Ref.json")

	p, err := parse()
	require.NoError(t, err)
	assert.Equal(t, cycles, p.channel.ChannelName)
}

func TestBadEnvValue(t *testing.T) {
	t.Setenv("CHANWATCH_IP_PORT", "not-a-port")

	_, err := parse("--channel-name", cycles, "--dictionary", "Ref.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHANWATCH_IP_PORT")
}

func TestConfigErrors(t *testing.T) {
	_, err := parse("--config", writeConfig(t, "colour: blue\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colour")

	_, err = parse("--config", writeConfig(t, "ip-port: [1, 2\n"))
	assert.Error(t, err)

	_, err = parse("--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "CHANWATCH_CHANNEL_NAME", envName("channel-name"))
	assert.Equal(t, "CHANWATCH_VERSION", envName("version"))
}
