package clibuild

import (
	"fmt"
	"sort"
	"strings"
)

// Project is one generated command-line reproduction tree.
type Project struct {
	Ecosystem    string
	TestFile     string
	BuildCommand string
	Dockerfile   string
	Compose      string
	// Files maps file name to content for the full tree.
	Files map[string]string
}

// FileNames lists the generated files in stable order.
func (p *Project) FileNames() []string {
	var out = make([]string, 0, len(p.Files))
	for name := range p.Files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// GenerateProject renders a runnable project wrapping |testCode| for the
// given ecosystem.
func GenerateProject(ecosystem, reproID, testCode string) (*Project, error) {
	switch ecosystem {
	case "jvm-maven":
		return mavenProject(reproID, testCode), nil
	case "jvm-gradle":
		return gradleProject(reproID, testCode), nil
	case "go", "unknown":
		// Plain Go tooling is the portable fallback.
		return goProject(reproID, testCode), nil
	default:
		return nil, fmt.Errorf("unsupported ecosystem %q", ecosystem)
	}
}

func mavenProject(reproID, testCode string) *Project {
	var artifact = "repro-" + shortID(reproID)
	var pom = fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<project xmlns="http://maven.apache.org/POM/4.0.0">
  <modelVersion>4.0.0</modelVersion>
  <groupId>io.reproforge</groupId>
  <artifactId>%s</artifactId>
  <version>1.0.0</version>
  <properties>
    <maven.compiler.source>17</maven.compiler.source>
    <maven.compiler.target>17</maven.compiler.target>
  </properties>
  <dependencies>
    <dependency>
      <groupId>org.junit.jupiter</groupId>
      <artifactId>junit-jupiter</artifactId>
      <version>5.10.2</version>
      <scope>test</scope>
    </dependency>
  </dependencies>
</project>
`, artifact)

	var test = testCode
	if test == "" {
		test = fmt.Sprintf(`package io.reproforge;

import org.junit.jupiter.api.Test;
import static org.junit.jupiter.api.Assertions.fail;

class ReproTest {
    @Test
    void reproducesReportedFailure() {
        fail("reproduction body for %s not supplied");
    }
}
`, reproID)
	}

	var p = &Project{
		Ecosystem:    "jvm-maven",
		TestFile:     "src/test/java/io/reproforge/ReproTest.java",
		BuildCommand: "mvn -B test",
		Dockerfile:   jvmDockerfile("maven:3.9-eclipse-temurin-17", "mvn -B test"),
		Files: map[string]string{
			"pom.xml": pom,
		},
	}
	p.Files[p.TestFile] = test
	p.Compose = composeFor("mvn -B test")
	p.Files["Dockerfile"] = p.Dockerfile
	p.Files["docker-compose.yml"] = p.Compose
	return p
}

func gradleProject(reproID, testCode string) *Project {
	var build = `plugins {
    id 'java'
}

repositories {
    mavenCentral()
}

dependencies {
    testImplementation 'org.junit.jupiter:junit-jupiter:5.10.2'
}

test {
    useJUnitPlatform()
}
`
	var test = testCode
	if test == "" {
		test = "class ReproTest {}\n"
	}

	var p = &Project{
		Ecosystem:    "jvm-gradle",
		TestFile:     "src/test/java/io/reproforge/ReproTest.java",
		BuildCommand: "gradle test",
		Dockerfile:   jvmDockerfile("gradle:8.7-jdk17", "gradle test"),
		Files: map[string]string{
			"build.gradle":    build,
			"settings.gradle": fmt.Sprintf("rootProject.name = 'repro-%s'\n", shortID(reproID)),
		},
	}
	p.Files[p.TestFile] = test
	p.Compose = composeFor("gradle test")
	p.Files["Dockerfile"] = p.Dockerfile
	p.Files["docker-compose.yml"] = p.Compose
	return p
}

func goProject(reproID, testCode string) *Project {
	var gomod = fmt.Sprintf("module reproforge.io/repro-%s\n\ngo 1.25\n", shortID(reproID))

	var test = testCode
	if test == "" {
		test = fmt.Sprintf(`package repro

import "testing"

func TestReproducesReportedFailure(t *testing.T) {
	t.Fatalf("reproduction body for %s not supplied")
}
`, reproID)
	}

	var p = &Project{
		Ecosystem:    "go",
		TestFile:     "repro_test.go",
		BuildCommand: "go test ./...",
		Dockerfile: `FROM golang:1.25-bookworm
WORKDIR /app
COPY . .
CMD ["go", "test", "./..."]
`,
		Files: map[string]string{
			"go.mod": gomod,
		},
	}
	p.Files[p.TestFile] = test
	p.Compose = composeFor("go test ./...")
	p.Files["Dockerfile"] = p.Dockerfile
	p.Files["docker-compose.yml"] = p.Compose
	return p
}

func jvmDockerfile(image, command string) string {
	return fmt.Sprintf(`FROM %s
WORKDIR /app
COPY . .
CMD [%s]
`, image, quoteArgs(command))
}

func composeFor(command string) string {
	return fmt.Sprintf(`services:
  repro:
    build: .
    command: %s
    environment:
      - CI=true
`, command)
}

func quoteArgs(command string) string {
	var parts = strings.Fields(command)
	var quoted = make([]string, 0, len(parts))
	for _, p := range parts {
		quoted = append(quoted, fmt.Sprintf("%q", p))
	}
	return strings.Join(quoted, ", ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
