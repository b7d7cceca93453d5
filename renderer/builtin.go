package renderer

import "github.com/pthm-cable/drift/gpu"

const copyShader = `#version 330
in vec2 fragTexCoord;
uniform sampler2D texture0;
out vec4 finalColor;

void main() {
    finalColor = texelFetch(texture0, ivec2(gl_FragCoord.xy), 0);
}
`

// flatColorShader mirrors gpu.FlatColor.
const flatColorShader = `#version 330
in vec2 fragTexCoord;
uniform sampler2D texture0;
out vec4 finalColor;

void main() {
    vec3 p = texelFetch(texture0, ivec2(gl_FragCoord.xy), 0).xyz;
    vec3 c = vec3(0.625);
    float n = dot(p, p);
    if (n > 0.0) {
        c = 0.625 + 0.375 * p * inversesqrt(n);
    }
    finalColor = vec4(c, 1.0);
}
`

var builtinSources = map[gpu.BuiltinKernel]string{
	gpu.BuiltinCopy:      copyShader,
	gpu.BuiltinFlatColor: flatColorShader,
}
