package services

// Template is the starter content of a newly created file.
type Template struct {
	Content   string
	Extension string
}

var templates = map[string]Template{
	"python": {
		Content:   "print(\"Hello from Python!\")\n",
		Extension: "py",
	},
	"javascript": {
		Content:   "console.log(\"Hello from JavaScript!\");\n",
		Extension: "js",
	},
	"java": {
		Content:   "public class Main {\n\tpublic static void main(String[] args) {\n\t\tSystem.out.println(\"Hello from Java!\");\n\t}\n}\n",
		Extension: "java",
	},
	"cpp": {
		Content:   "#include <iostream>\n\nint main() {\n\tstd::cout << \"Hello from C++!\" << std::endl;\n\treturn 0;\n}\n",
		Extension: "cpp",
	},
	"php": {
		Content:   "<?php\necho \"Hello from PHP!\";\n?>",
		Extension: "php",
	},
	"html": {
		Content:   "<!DOCTYPE html>\n<html>\n<body>\n\t<h1>Hello HTML</h1>\n</body>\n</html>",
		Extension: "html",
	},
}

var fallbackTemplate = Template{Content: "// Start coding...", Extension: "txt"}

// TemplateFor returns the starter template for language, falling back to a
// plain text file.
func TemplateFor(language string) Template {
	if t, ok := templates[language]; ok {
		return t
	}
	return fallbackTemplate
}
