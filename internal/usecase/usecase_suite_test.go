package usecase

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestUsecaseScenarios(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Security Component Scenario Suite")
}
