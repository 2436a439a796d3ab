package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/srg/pbit/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type ScanCommandSuite struct {
	CommandTestSuite
}

func TestScanCommandSuite(t *testing.T) {
	suite.Run(t, new(ScanCommandSuite))
}

func (s *ScanCommandSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	s.Radio.WithAdvertisements(
		testutils.NewAdvertisementBuilder().WithName("PBIT-1").WithAddress("00:00:00:00:00:01").WithRSSI(-70).Build(),
		testutils.NewAdvertisementBuilder().WithName("PBIT-2").WithAddress("00:00:00:00:00:02").WithRSSI(-40).
			WithServices("4fafc201-1fb5-459e-8fcc-c5c9c331914b").Build(),
		testutils.NewAdvertisementBuilder().WithName("Headphones").WithAddress("00:00:00:00:00:03").WithRSSI(-50).Build(),
	)
}

func (s *ScanCommandSuite) TestScanListsPBitsStrongestFirst() {
	stdout, _, err := s.ExecuteCommand("scan", "--duration", "50ms")
	s.Require().NoError(err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	s.Require().Len(lines, 3)
	s.Contains(lines[0], "NAME")
	s.Contains(lines[1], "PBIT-2")
	s.Contains(lines[1], "4fafc201")
	s.Contains(lines[2], "PBIT-1")
	s.NotContains(stdout, "Headphones")
}

func (s *ScanCommandSuite) TestScanAll() {
	stdout, _, err := s.ExecuteCommand("scan", "--duration", "50ms", "--all")
	s.Require().NoError(err)
	s.Contains(stdout, "Headphones")
}

func (s *ScanCommandSuite) TestScanInvalidDuration() {
	_, _, err := s.ExecuteCommand("scan", "--duration", "0s")
	s.ErrorContains(err, "scan duration must be positive")
}

func TestWriteScanTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	writeScanTable(&buf, nil)
	assert.Equal(t, "No devices found.\n", buf.String())
}
